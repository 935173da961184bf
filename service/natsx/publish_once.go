package natsx

import (
	"context"

	"MessageBox/tools/ids"
)

// PublishOnce：带 Nats-Msg-Id 的发布，JetStream 按它去重
// - msgID 为空则用雪花ID
func (p *NatsxProducer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if hdr == nil {
		hdr = map[string]string{}
	}
	if msgID == "" {
		msgID = ids.GenerateString()
	}
	hdr["Nats-Msg-Id"] = msgID
	return p.Publish(ctx, biz, data, hdr)
}
