package auth

import (
	"errors"
	"net/http"
	"strings"
)

// 网关透传身份使用的请求头。
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderWalletID = "X-Wallet-ID"
)

// ErrMissingSubject 表示请求没有携带用户身份。
var ErrMissingSubject = errors.New("missing user identity")

// Subject 是网关认证后的用户身份，服务本身不校验凭据。
type Subject struct {
	UserID   string
	UserName string
	WalletID string
}

// SubjectFromRequest 从请求头解析身份，用户 ID 缺失时返回 ErrMissingSubject。
func SubjectFromRequest(r *http.Request) (*Subject, error) {
	subject := &Subject{
		UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		UserName: strings.TrimSpace(r.Header.Get(HeaderUserName)),
		WalletID: strings.TrimSpace(r.Header.Get(HeaderWalletID)),
	}
	if subject.UserID == "" {
		return nil, ErrMissingSubject
	}
	if subject.UserName == "" {
		subject.UserName = "there"
	}
	return subject, nil
}
