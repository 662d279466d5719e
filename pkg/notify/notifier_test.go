package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testbot/pkg/models"
	"testbot/pkg/resilience"
)

type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	status int
	reply  string
}

func (c *capture) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		status, reply := c.status, c.reply
		c.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func sampleMeta(failed bool) models.RunMetadata {
	code := 0
	if failed {
		code = 2
	}
	return models.RunMetadata{
		Project:     "InfiniCore",
		Environment: "nvidia-a100",
		Branch:      "main",
		Outcomes: []models.CommandOutcome{
			models.NewCommandOutcome("Fetch", "git fetch origin main", 0, "", ""),
			models.NewCommandOutcome("Python test", "python scripts/python_test.py --nv-gpu", code, "boom", ""),
		},
	}
}

func TestBuild_SelectsVariant(t *testing.T) {
	cases := []struct {
		cfg  *models.NotifierConfig
		name string
	}{
		{nil, TypeNone},
		{&models.NotifierConfig{}, TypeNone},
		{&models.NotifierConfig{Type: "none"}, TypeNone},
		{&models.NotifierConfig{Type: "Feishu", URL: "http://x"}, TypeFeishu},
		{&models.NotifierConfig{Type: "discord", URL: "http://x"}, TypeDiscord},
		{&models.NotifierConfig{Type: "webhook", URL: "http://x"}, TypeWebhook},
	}
	for _, tc := range cases {
		n, err := Build(tc.cfg)
		require.NoError(t, err)
		assert.Equal(t, tc.name, n.Name())
	}
}

func TestBuild_RejectsUnknownTypeAndMissingURL(t *testing.T) {
	_, err := Build(&models.NotifierConfig{Type: "pager", URL: "http://x"})
	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "notifier.type", cfgErr.Field)

	_, err = Build(&models.NotifierConfig{Type: "feishu"})
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "notifier.url", cfgErr.Field)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "[testbot success] InfiniCore env: nvidia-a100 branch: main", Title(sampleMeta(false)))
	assert.Equal(t, "[testbot failed] InfiniCore env: nvidia-a100 branch: main", Title(sampleMeta(true)))
}

func TestNoneNotifier_DoesNothing(t *testing.T) {
	assert.NoError(t, NoneNotifier{}.Notify(context.Background(), sampleMeta(true)))
}

func TestFeishuNotifier_PostsRichText(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	n, err := Build(&models.NotifierConfig{Type: "feishu", URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), sampleMeta(true)))
	require.Equal(t, 1, c.count())

	var msg feishuMessage
	require.NoError(t, json.Unmarshal(c.bodies[0], &msg))
	assert.Equal(t, "post", msg.MsgType)
	post := msg.Content.Post.ZhCN
	assert.Equal(t, "[testbot failed] InfiniCore env: nvidia-a100 branch: main", post.Title)
	require.Len(t, post.Content, 2)
	assert.Equal(t, "Task: Fetch succeeded.\n", post.Content[0][0].Text)
	assert.Contains(t, post.Content[1][0].Text, "Task: Python test failed, code 2")
	assert.Contains(t, post.Content[1][0].Text, "boom")
}

func TestFeishuNotifier_RejectedReplyIsError(t *testing.T) {
	c := &capture{reply: `{"code":19001,"msg":"param invalid: incoming webhook access token invalid"}`}
	srv := c.server(t)

	n, err := Build(&models.NotifierConfig{Type: "feishu", URL: srv.URL})
	require.NoError(t, err)
	err = n.Notify(context.Background(), sampleMeta(false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "19001")
}

func TestFeishuNotifier_AcceptedReply(t *testing.T) {
	c := &capture{reply: `{"code":0,"msg":"success","data":{}}`}
	srv := c.server(t)

	n, err := Build(&models.NotifierConfig{Type: "feishu", URL: srv.URL})
	require.NoError(t, err)
	assert.NoError(t, n.Notify(context.Background(), sampleMeta(false)))
}

func TestDiscordNotifier_TruncatesContent(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	meta := sampleMeta(true)
	meta.Outcomes[1].Stdout = strings.Repeat("x", 5000)

	n, err := Build(&models.NotifierConfig{Type: "discord", URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), meta))

	var payload discordPayload
	require.NoError(t, json.Unmarshal(c.bodies[0], &payload))
	assert.LessOrEqual(t, len(payload.Content), discordLimit)
	assert.True(t, strings.HasPrefix(payload.Content, "[testbot failed]"))
}

func TestDiscordContent_CountsCharacters(t *testing.T) {
	meta := sampleMeta(true)
	meta.Outcomes[1].Stdout = strings.Repeat("测试失败", 1000)

	content := discordContent(meta)
	assert.True(t, utf8.ValidString(content))
	assert.Equal(t, discordLimit, utf8.RuneCountInString(content))
	assert.True(t, strings.HasSuffix(content, "..."))
}

func TestTruncateTail_KeepsRunesWhole(t *testing.T) {
	out := strings.Repeat("错", 10) // 3 bytes each

	got := truncateTail(out, 7)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "..."+strings.Repeat("错", 2), got)
	assert.NotContains(t, got, string(utf8.RuneError))

	assert.Equal(t, out, truncateTail(out, len(out)))
}

func TestWebhookNotifier_PostsMetadata(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	n, err := Build(&models.NotifierConfig{Type: "webhook", URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), sampleMeta(false)))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(c.bodies[0], &got))
	assert.Equal(t, "success", got["status"])
	assert.Equal(t, "InfiniCore", got["project"])
	assert.Len(t, got["results"], 2)
}

func TestPoster_Non2xxIsError(t *testing.T) {
	c := &capture{status: http.StatusInternalServerError}
	srv := c.server(t)

	n, err := Build(&models.NotifierConfig{Type: "webhook", URL: srv.URL})
	require.NoError(t, err)
	err = n.Notify(context.Background(), sampleMeta(false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestPoster_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	c := &capture{status: http.StatusBadGateway}
	srv := c.server(t)

	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 2
	cb := resilience.NewCircuitBreaker("test", cfg)

	n, err := Build(&models.NotifierConfig{Type: "discord", URL: srv.URL}, WithCircuitBreaker(cb))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		assert.Error(t, n.Notify(context.Background(), sampleMeta(true)))
	}
	err = n.Notify(context.Background(), sampleMeta(true))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, c.count())
}
