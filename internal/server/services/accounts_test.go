package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/vidtube/internal/apperr"
	"github.com/dmitrijs2005/vidtube/internal/logging"
	"github.com/dmitrijs2005/vidtube/internal/server/auth"
	"github.com/dmitrijs2005/vidtube/internal/server/metrics"
	"github.com/dmitrijs2005/vidtube/internal/server/models"
	"github.com/dmitrijs2005/vidtube/internal/server/repositories/repomanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- helpers ---

type fakeUploader struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	empty map[string]bool
}

func (f *fakeUploader) Upload(ctx context.Context, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, localPath)
	if err := f.fail[localPath]; err != nil {
		return "", err
	}
	if f.empty[localPath] {
		return "", nil
	}
	return "https://cdn.test/" + localPath, nil
}

type fixture struct {
	svc      *AccountService
	rm       repomanager.RepositoryManager
	tokens   *auth.TokenManager
	uploader *fakeUploader
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    240 * time.Hour,
	})
	require.NoError(t, err)

	rm := repomanager.NewMemoryRepositoryManager()
	up := &fakeUploader{fail: map[string]error{}, empty: map[string]bool{}}
	mt := metrics.New(prometheus.NewRegistry())
	svc := NewAccountService(nil, rm, tokens, auth.NewBcryptHasher(bcrypt.MinCost), up, mt, logging.Nop())
	return &fixture{svc: svc, rm: rm, tokens: tokens, uploader: up, metrics: mt}
}

func validInput() RegisterInput {
	return RegisterInput{
		FullName:   "Alice Liddell",
		Email:      "Alice@Example.com",
		Username:   "Alice",
		Password:   "wonderland",
		AvatarPath: "avatar.png",
	}
}

func (f *fixture) register(t *testing.T) *models.PublicAccount {
	t.Helper()
	a, err := f.svc.Register(context.Background(), validInput())
	require.NoError(t, err)
	return a
}

func (f *fixture) storedToken(t *testing.T, id string) *string {
	t.Helper()
	a, err := f.rm.Accounts(nil).FindByID(context.Background(), id)
	require.NoError(t, err)
	return a.RefreshToken
}

func requireKind(t *testing.T, err error, kind apperr.Kind, msg string) {
	t.Helper()
	require.Error(t, err)
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae), "expected *apperr.Error, got %T: %v", err, err)
	assert.Equal(t, kind, ae.Kind, "kind of %v", err)
	if msg != "" {
		assert.Equal(t, msg, ae.Message)
	}
}

// --- Register ---

func TestRegister_Success(t *testing.T) {
	f := newFixture(t)

	a := f.register(t)
	assert.Equal(t, "alice", a.Username)
	assert.Equal(t, "alice@example.com", a.Email)
	assert.Equal(t, "https://cdn.test/avatar.png", a.AvatarURL)
	assert.Empty(t, a.CoverImageURL)

	stored, err := f.rm.Accounts(nil).FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "wonderland", stored.PasswordHash)
	assert.Nil(t, stored.RefreshToken)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthEventsTotal.WithLabelValues(metrics.EventRegister, "success")))
}

func TestRegister_BlankFields(t *testing.T) {
	f := newFixture(t)
	for _, mutate := range []func(*RegisterInput){
		func(in *RegisterInput) { in.FullName = " " },
		func(in *RegisterInput) { in.Email = "" },
		func(in *RegisterInput) { in.Username = "\t" },
		func(in *RegisterInput) { in.Password = "" },
	} {
		in := validInput()
		mutate(&in)
		_, err := f.svc.Register(context.Background(), in)
		requireKind(t, err, apperr.KindValidation, MsgAllFieldsRequired)
	}
	assert.Empty(t, f.uploader.calls, "nothing uploaded for invalid input")
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	sameUser := validInput()
	sameUser.Email = "other@example.com"
	sameUser.Username = "ALICE"
	_, err := f.svc.Register(context.Background(), sameUser)
	requireKind(t, err, apperr.KindConflict, MsgUserExists)

	sameEmail := validInput()
	sameEmail.Username = "bob"
	sameEmail.Email = " alice@EXAMPLE.com "
	_, err = f.svc.Register(context.Background(), sameEmail)
	requireKind(t, err, apperr.KindConflict, MsgUserExists)
}

func TestRegister_AvatarRequired(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.AvatarPath = ""
	in.CoverImagePath = "cover.png"

	_, err := f.svc.Register(context.Background(), in)
	requireKind(t, err, apperr.KindValidation, MsgAvatarRequired)
}

func TestRegister_AvatarUploadFailure(t *testing.T) {
	f := newFixture(t)
	f.uploader.fail["avatar.png"] = errors.New("s3 down")

	_, err := f.svc.Register(context.Background(), validInput())
	requireKind(t, err, apperr.KindUpload, MsgAvatarUpload)
	assert.Equal(t, 400, apperr.From(err).StatusCode())

	f2 := newFixture(t)
	f2.uploader.empty["avatar.png"] = true
	_, err = f2.svc.Register(context.Background(), validInput())
	requireKind(t, err, apperr.KindUpload, MsgAvatarUpload)
}

func TestRegister_CoverUploadFailureTolerated(t *testing.T) {
	f := newFixture(t)
	f.uploader.fail["cover.png"] = errors.New("s3 down")
	in := validInput()
	in.CoverImagePath = "cover.png"

	a, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "", a.CoverImageURL)

	f2 := newFixture(t)
	a, err = f2.svc.Register(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/cover.png", a.CoverImageURL)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.Password = strings.Repeat("x", 80)

	_, err := f.svc.Register(context.Background(), in)
	requireKind(t, err, apperr.KindValidation, MsgPasswordTooLong)
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	a := f.register(t)

	res, err := f.svc.Login(context.Background(), LoginInput{Email: "ALICE@example.com", Password: "wonderland"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.User.ID)

	access, err := f.tokens.VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, a.ID, access.UserID)
	assert.Equal(t, "alice", access.Username)

	refresh, err := f.tokens.VerifyRefresh(res.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, a.ID, refresh.UserID)

	stored := f.storedToken(t, a.ID)
	require.NotNil(t, stored)
	assert.Equal(t, res.RefreshToken, *stored)
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, LoginInput{Password: "wonderland"})
	requireKind(t, err, apperr.KindValidation, MsgIdentityRequired)

	_, err = f.svc.Login(ctx, LoginInput{Username: "alice"})
	requireKind(t, err, apperr.KindValidation, MsgPasswordRequired)

	_, err = f.svc.Login(ctx, LoginInput{Username: "nobody", Password: "x"})
	requireKind(t, err, apperr.KindNotFound, MsgUserNotFound)

	_, err = f.svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong"})
	requireKind(t, err, apperr.KindUnauthorized, MsgInvalidCredentials)

	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.AuthEventsTotal.WithLabelValues(metrics.EventLogin, "failure")))
}

func TestLogin_LastWriterWins(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	ctx := context.Background()

	first, err := f.svc.Login(ctx, LoginInput{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, LoginInput{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)

	_, err = f.svc.RefreshAccessToken(ctx, first.RefreshToken)
	requireKind(t, err, apperr.KindUnauthorized, MsgRefreshTokenUsed)

	_, err = f.svc.RefreshAccessToken(ctx, second.RefreshToken)
	require.NoError(t, err)
}

// --- Refresh ---

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	f := newFixture(t)
	a := f.register(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, LoginInput{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)

	pair, err := f.svc.RefreshAccessToken(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, pair.RefreshToken)
	stored := f.storedToken(t, a.ID)
	require.NotNil(t, stored)
	assert.Equal(t, pair.RefreshToken, *stored)

	_, err = f.svc.RefreshAccessToken(ctx, login.RefreshToken)
	requireKind(t, err, apperr.KindUnauthorized, MsgRefreshTokenUsed)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshRejected))
}

func TestRefresh_BadTokens(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	ctx := context.Background()

	_, err := f.svc.RefreshAccessToken(ctx, "")
	requireKind(t, err, apperr.KindUnauthorized, MsgUnauthorized)

	login, err := f.svc.Login(ctx, LoginInput{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)

	tampered := login.RefreshToken[:len(login.RefreshToken)-4] + "AAAA"
	_, err = f.svc.RefreshAccessToken(ctx, tampered)
	requireKind(t, err, apperr.KindInvalidToken, MsgInvalidRefreshToken)

	_, err = f.svc.RefreshAccessToken(ctx, login.AccessToken)
	requireKind(t, err, apperr.KindInvalidToken, MsgInvalidRefreshToken)
}

func TestRefresh_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	ghost := &models.Account{ID: "ghost"}
	tok, _, err := f.tokens.IssueRefreshToken(ghost)
	require.NoError(t, err)

	_, err = f.svc.RefreshAccessToken(context.Background(), tok)
	requireKind(t, err, apperr.KindUnauthorized, MsgInvalidRefreshToken)
}

func TestRefresh_ConcurrentSameTokenOneWinner(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	ctx := context.Background()
	login, err := f.svc.Login(ctx, LoginInput{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.RefreshAccessToken(ctx, login.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

// --- Logout ---

func TestLogout(t *testing.T) {
	f := newFixture(t)
	a := f.register(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, LoginInput{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, a.ID))
	assert.Nil(t, f.storedToken(t, a.ID))

	_, err = f.svc.RefreshAccessToken(ctx, login.RefreshToken)
	requireKind(t, err, apperr.KindUnauthorized, MsgRefreshTokenUsed)

	// access token stays usable until it expires
	u, err := f.svc.Authenticate(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, a.ID, u.ID)

	err = f.svc.Logout(ctx, "ghost")
	requireKind(t, err, apperr.KindNotFound, "")
}

// --- Authenticate / CurrentUser ---

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, "")
	requireKind(t, err, apperr.KindUnauthorized, MsgUnauthorized)

	_, err = f.svc.Authenticate(ctx, "garbage")
	requireKind(t, err, apperr.KindInvalidToken, MsgInvalidAccessToken)

	tok, _, err := f.tokens.IssueAccessToken(&models.Account{ID: "ghost"})
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, tok)
	requireKind(t, err, apperr.KindUnauthorized, MsgInvalidAccessToken)

	_, err = f.svc.CurrentUser(ctx, nil)
	requireKind(t, err, apperr.KindUnauthorized, MsgUnauthorized)
}

// --- ChangePassword / SetPassword ---

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	a := f.register(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, LoginInput{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, a.ID, "wrong", "new-pass")
	requireKind(t, err, apperr.KindValidation, MsgInvalidOldPassword)

	err = f.svc.ChangePassword(ctx, a.ID, "", "new-pass")
	requireKind(t, err, apperr.KindValidation, MsgAllFieldsRequired)

	require.NoError(t, f.svc.ChangePassword(ctx, a.ID, "wonderland", "new-pass"))

	_, err = f.svc.Login(ctx, LoginInput{Username: "alice", Password: "wonderland"})
	requireKind(t, err, apperr.KindUnauthorized, MsgInvalidCredentials)

	stored := f.storedToken(t, a.ID)
	require.NotNil(t, stored)
	assert.Equal(t, login.RefreshToken, *stored, "password change keeps the session")

	_, err = f.svc.Login(ctx, LoginInput{Username: "alice", Password: "new-pass"})
	require.NoError(t, err)
}

func TestSetPassword(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SetPassword(ctx, "ALICE", "reset-pass"))
	_, err := f.svc.Login(ctx, LoginInput{Username: "alice", Password: "reset-pass"})
	require.NoError(t, err)

	err = f.svc.SetPassword(ctx, "nobody", "x")
	requireKind(t, err, apperr.KindNotFound, MsgUserNotFound)
}

// --- profile ---

func TestProfileUpdatesKeepPasswordHash(t *testing.T) {
	f := newFixture(t)
	a := f.register(t)
	ctx := context.Background()
	repo := f.rm.Accounts(nil)

	before, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)

	u, err := f.svc.UpdateProfile(ctx, a.ID, " Alice L. ", "NEW@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice L.", u.FullName)
	assert.Equal(t, "new@example.com", u.Email)

	u, err = f.svc.UpdateAvatar(ctx, a.ID, "avatar2.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/avatar2.png", u.AvatarURL)

	u, err = f.svc.UpdateCoverImage(ctx, a.ID, "cover2.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/cover2.png", u.CoverImageURL)

	after, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
}

func TestProfileUpdateFailures(t *testing.T) {
	f := newFixture(t)
	a := f.register(t)
	ctx := context.Background()

	_, err := f.svc.UpdateProfile(ctx, a.ID, "", "x@example.com")
	requireKind(t, err, apperr.KindValidation, MsgAllFieldsRequired)

	_, err = f.svc.UpdateAvatar(ctx, a.ID, "")
	requireKind(t, err, apperr.KindValidation, MsgAvatarRequired)

	_, err = f.svc.UpdateCoverImage(ctx, a.ID, "")
	requireKind(t, err, apperr.KindValidation, MsgCoverRequired)

	f.uploader.fail["bad.png"] = errors.New("s3 down")
	_, err = f.svc.UpdateCoverImage(ctx, a.ID, "bad.png")
	requireKind(t, err, apperr.KindUpload, MsgCoverUpload)

	bob := validInput()
	bob.Username, bob.Email = "bob", "bob@example.com"
	_, err = f.svc.Register(ctx, bob)
	require.NoError(t, err)
	_, err = f.svc.UpdateProfile(ctx, a.ID, "Alice", "bob@example.com")
	requireKind(t, err, apperr.KindConflict, "")
}

// --- end to end ---

func TestFlow_RegisterLoginCurrentUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t)

	login, err := f.svc.Login(ctx, LoginInput{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)

	u, err := f.svc.Authenticate(ctx, login.AccessToken)
	require.NoError(t, err)
	cur, err := f.svc.CurrentUser(ctx, u)
	require.NoError(t, err)

	b, err := json.Marshal(cur)
	require.NoError(t, err)
	body := string(b)
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "refreshToken")
	assert.NotContains(t, body, login.RefreshToken)
	assert.Contains(t, body, `"username":"alice"`)
}

func TestFlow_DoubleRefreshWithFirstTokenFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t)

	login, err := f.svc.Login(ctx, LoginInput{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)
	_, err = f.svc.RefreshAccessToken(ctx, login.RefreshToken)
	require.NoError(t, err)
	_, err = f.svc.RefreshAccessToken(ctx, login.RefreshToken)
	requireKind(t, err, apperr.KindUnauthorized, MsgRefreshTokenUsed)
}
