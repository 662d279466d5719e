package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"testbot/pkg/models"
)

// FeishuNotifier posts a rich-text message to a Feishu bot webhook.
type FeishuNotifier struct {
	url    string
	poster *poster
}

type feishuElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type feishuPost struct {
	Title   string            `json:"title"`
	Content [][]feishuElement `json:"content"`
}

type feishuMessage struct {
	MsgType string `json:"msg_type"`
	Content struct {
		Post struct {
			ZhCN feishuPost `json:"zh_cn"`
		} `json:"post"`
	} `json:"content"`
}

func (f *FeishuNotifier) Name() string { return TypeFeishu }

func (f *FeishuNotifier) Notify(ctx context.Context, meta models.RunMetadata) error {
	return f.poster.postJSON(ctx, f.url, feishuPayload(meta), checkFeishuReply)
}

// feishuReply is the body of a bot webhook response. Rejected messages still
// come back with HTTP 200 and a non-zero code.
type feishuReply struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func checkFeishuReply(body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var reply feishuReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("failed to decode feishu reply: %w", err)
	}
	if reply.Code != 0 {
		return fmt.Errorf("feishu rejected message: code %d: %s", reply.Code, reply.Msg)
	}
	return nil
}

func feishuPayload(meta models.RunMetadata) feishuMessage {
	var msg feishuMessage
	msg.MsgType = "post"
	post := feishuPost{Title: Title(meta)}
	for _, line := range OutcomeLines(meta) {
		post.Content = append(post.Content, []feishuElement{{Tag: "text", Text: line + "\n"}})
	}
	msg.Content.Post.ZhCN = post
	return msg
}
