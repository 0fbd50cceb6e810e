package auth

import (
	"context"
	"sync"
	"time"

	"github.com/ysaito/authman/internal/model"
	"github.com/ysaito/authman/internal/repository"
)

// --- テスト用のインメモリリポジトリ ---

// fakeUserRepo はUserRepositoryのインメモリ実装。
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User // key: user ID
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) Update(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if id != user.ID && u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	existing, ok := f.users[user.ID]
	if !ok {
		return nil
	}
	existing.Email = user.Email
	existing.IsActive = user.IsActive
	existing.Metadata = user.Metadata
	existing.UpdatedAt = user.UpdatedAt
	return nil
}

func (f *fakeUserRepo) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

// fakeSessionRepo はSessionRepositoryのインメモリ実装。
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session // key: token
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*model.Session)}
}

func (f *fakeSessionRepo) Create(ctx context.Context, session *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.Token] = &copied
	return nil
}

func (f *fakeSessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[token]
	if !ok || s.IsExpired() {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessionRepo) DeleteByToken(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}

func (f *fakeSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for token, s := range f.sessions {
		if s.IsExpired() {
			delete(f.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}

// fakeResetRepo はPasswordResetRepositoryのインメモリ実装。
type fakeResetRepo struct {
	mu     sync.Mutex
	resets map[string]*model.PasswordReset // key: reset ID
}

func newFakeResetRepo() *fakeResetRepo {
	return &fakeResetRepo{resets: make(map[string]*model.PasswordReset)}
}

func (f *fakeResetRepo) Create(ctx context.Context, reset *model.PasswordReset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *reset
	f.resets[reset.ID] = &copied
	return nil
}

func (f *fakeResetRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.PasswordReset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.resets {
		if r.TokenHash == tokenHash {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeResetRepo) Consume(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resets[id]
	if !ok || r.ConsumedAt != nil {
		return repository.ErrAlreadyConsumed
	}
	now := time.Now()
	r.ConsumedAt = &now
	return nil
}

func (f *fakeResetRepo) DeleteStale(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for id, r := range f.resets {
		if r.IsExpired() || r.IsConsumed() {
			delete(f.resets, id)
			deleted++
		}
	}
	return deleted, nil
}

// fakeHasher はテスト高速化のためのPasswordHasher実装。
// bcrypt自体の挙動はhasher_test.goで担保する。
type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (fakeHasher) Verify(password, hash string) bool {
	return hash == "hashed:"+password
}

// fakeMailer はメール送信を記録するProvider実装。
type fakeMailer struct {
	mu      sync.Mutex
	sent    []string // 送信先メールアドレス
	tokens  []string // 送信されたトークン
	sendErr error
}

func (f *fakeMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, email)
	f.tokens = append(f.tokens, token)
	return nil
}

// compile-time interface checks
var (
	_ repository.UserRepository          = (*fakeUserRepo)(nil)
	_ repository.SessionRepository       = (*fakeSessionRepo)(nil)
	_ repository.PasswordResetRepository = (*fakeResetRepo)(nil)
)
