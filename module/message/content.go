package message

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// content 字段是多态的：按 m_type 解到对应的窄结构体。
// 字段读取走 json tag，弱类型输入（"123" -> int64 等）一律放行，
// 解不动才算协议错误。

// DecodeContent 把 envelope.Content 解码为 T
func DecodeContent[T any](content any) (*T, error) {
	if content == nil {
		return nil, fmt.Errorf("content is nil")
	}
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return &out, nil
}

// IDList content 为 id 列表的场合（加群成员等）
func IDList(content any) ([]int64, error) {
	raw, ok := content.([]any)
	if !ok {
		return nil, fmt.Errorf("content is not a list")
	}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case json.Number:
			id, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("content element %v is not an id", v)
			}
			out = append(out, id)
		case float64:
			out = append(out, int64(n))
		case int64:
			out = append(out, n)
		default:
			return nil, fmt.Errorf("content element %v is not an id", v)
		}
	}
	return out, nil
}

// CreateGroupContent 建群请求：content = {name, members}
type CreateGroupContent struct {
	Name    string   `json:"name"`
	Members []UserID `json:"members"`
}

// EditContent 编辑消息：content = {message_id, content}
type EditContent struct {
	MessageID MessageID `json:"message_id"`
	Content   string    `json:"content"`
}

// ProfileContent 改个人资料：content = 任意字段的 patch
type ProfileContent struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Email  string `json:"email,omitempty"`
}

// ContactsData 联系人快照基类形状
type ContactsData struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Category string `json:"category"`
}

// UserData 用户形状的联系人记录
type UserData struct {
	ID       UserID `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Email    string `json:"email"`
	Category string `json:"category"` // 恒为 "user"
}

// GroupData 群形状的联系人记录
type GroupData struct {
	ID       GroupID     `json:"id"`
	Name     string      `json:"name"`
	Avatar   string      `json:"avatar"`
	Members  []UserID    `json:"members"`
	Owner    UserID      `json:"owner"`
	Admin    []UserID    `json:"admin"`
	Pinned   []MessageID `json:"top_message,omitempty"`
	Category string      `json:"category"` // 恒为 "group"
}
