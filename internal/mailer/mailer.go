// Package mailer はトランザクションメールの送信を提供する。
// 実際の配信は外部のメールWebhookに委譲し、このパッケージは
// ペイロードの組み立てとHTTP送信のみを担当する。
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Provider はメール送信のインターフェース。
// Webhook未設定の環境ではNoopProviderを使用する。
type Provider interface {
	// SendPasswordReset はパスワードリセットメールを送信する。
	// tokenは平文のリセットトークン。
	SendPasswordReset(ctx context.Context, email, token string) error
}

// NoopProvider は何も送信しないProvider実装。
// MAIL_WEBHOOK_URLが未設定の環境（ローカル開発・テスト）で使用する。
type NoopProvider struct{}

// NewNoopProvider はNoopProviderを生成する。
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

// SendPasswordReset は送信をスキップし、デバッグログのみ出力する。
func (p *NoopProvider) SendPasswordReset(ctx context.Context, email, token string) error {
	slog.Debug("mail sending skipped (no webhook configured)")
	return nil
}

// WebhookProvider はメールWebhookにHTTP POSTするProvider実装。
// clientにはSSRF防止機能付きのHTTPクライアントを渡すこと。
type WebhookProvider struct {
	client     *http.Client
	webhookURL string
	baseURL    string // リセットリンクの生成に使用するアプリケーションのベースURL
}

// NewWebhookProvider はWebhookProviderを生成する。
func NewWebhookProvider(client *http.Client, webhookURL, baseURL string) *WebhookProvider {
	return &WebhookProvider{
		client:     client,
		webhookURL: webhookURL,
		baseURL:    baseURL,
	}
}

// resetMailPayload はWebhookに送信するリクエストボディ。
type resetMailPayload struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	ResetURL string `json:"reset_url"`
}

// SendPasswordReset はリセットリンク付きのメール送信リクエストをWebhookにPOSTする。
func (p *WebhookProvider) SendPasswordReset(ctx context.Context, email, token string) error {
	payload := resetMailPayload{
		To:       email,
		Subject:  "パスワード再設定のご案内",
		ResetURL: fmt.Sprintf("%s/reset-password?token=%s", p.baseURL, token),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call mail webhook: %w", err)
	}
	defer resp.Body.Close()

	// レスポンスボディは読み捨てる（コネクション再利用のため）
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("mail webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// compile-time interface checks
var (
	_ Provider = (*NoopProvider)(nil)
	_ Provider = (*WebhookProvider)(nil)
)
