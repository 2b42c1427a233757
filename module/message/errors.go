package message

import (
	"time"

	"telethu/tools/errs"
)

// ErrorContent 错误回包的 content
type ErrorContent struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// NewErrorEnvelope 复用原消息的形状，打上 t_type=error 标记，只回发送方。
// 不提交任何变更，也不 fan-out。
func NewErrorEnvelope(orig *Envelope, err error) *Envelope {
	content := ErrorContent{Code: -1, Msg: err.Error()}
	if ce := errs.AsCodeError(err); ce != nil {
		content.Code = ce.Code
		content.Msg = ce.Msg
		if ce.Detail != "" {
			content.Msg += ": " + ce.Detail
		}
	}
	return &Envelope{
		MessageID: orig.MessageID,
		TmpID:     orig.TmpID,
		Kind:      orig.Kind,
		Target:    TargetError,
		Time:      time.Now().UnixMilli(),
		Content:   content,
		Sender:    orig.Sender,
		Receiver:  orig.Receiver,
		Info:      orig.Info,
	}
}
