package testutil

import (
	"context"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/ieraasyl/StorefrontAuth/pkg/apperr"
)

// MemoryStore is an in-memory stand-in for PostgresDB. It implements the
// credential, activity and remember-token store interfaces of the services
// package. Under its mutex it enforces what the users table does in Postgres:
// unique emails and Google IDs, and the column widths.
type MemoryStore struct {
	mu sync.Mutex

	nextUserID    int64
	users         map[int64]*models.User
	byEmail       map[string]int64
	verifications map[int64]string

	activity []models.ActivityLogEntry

	nextTokenID int64
	tokens      map[string]*models.RememberToken

	failures map[string]error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[int64]*models.User),
		byEmail:       make(map[string]int64),
		verifications: make(map[int64]string),
		tokens:        make(map[string]*models.RememberToken),
		failures:      make(map[string]error),
	}
}

// FailOn makes every call to the named method return err. A nil err clears it.
//
// Example:
//
//	store.FailOn("InsertActivityLog", errors.New("disk full"))
func (m *MemoryStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *MemoryStore) failure(method string) error {
	return m.failures[method]
}

// AddUser seeds a user and returns its assigned ID.
func (m *MemoryStore) AddUser(u *models.User) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextUserID++
	stored := *u
	stored.ID = m.nextUserID
	stored.Email = models.NormalizeEmail(stored.Email)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	m.users[stored.ID] = &stored
	m.byEmail[stored.Email] = stored.ID
	return stored.ID
}

// UserCount returns the number of stored users.
func (m *MemoryStore) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// User returns a copy of the user with id, or nil.
func (m *MemoryStore) User(id int64) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	c := *u
	return &c
}

// VerificationToken returns the verification token stored at registration.
func (m *MemoryStore) VerificationToken(userID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifications[userID]
}

// ActivityEntries returns a copy of the activity log in insertion order.
func (m *MemoryStore) ActivityEntries() []models.ActivityLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ActivityLogEntry, len(m.activity))
	copy(out, m.activity)
	return out
}

// ActivityByAction returns the entries recorded for action.
func (m *MemoryStore) ActivityByAction(action models.Action) []models.ActivityLogEntry {
	var out []models.ActivityLogEntry
	for _, e := range m.ActivityEntries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// RememberTokenCount returns the number of stored remember tokens.
func (m *MemoryStore) RememberTokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// RememberTokenHashes returns the stored token digests, sorted.
func (m *MemoryStore) RememberTokenHashes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tokens))
	for h := range m.tokens {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryStore) find(email string, activeOnly bool) (*models.User, error) {
	id, ok := m.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	u := m.users[id]
	if activeOnly && u.Status != models.StatusActive {
		return nil, apperr.ErrNotFound
	}
	c := *u
	return &c, nil
}

// FindActiveUserByEmail implements services.CredentialStore.
func (m *MemoryStore) FindActiveUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("FindActiveUserByEmail"); err != nil {
		return nil, err
	}
	return m.find(email, true)
}

// FindUserByEmail implements services.CredentialStore.
func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("FindUserByEmail"); err != nil {
		return nil, err
	}
	return m.find(email, false)
}

// FindUserByID implements services.CredentialStore.
func (m *MemoryStore) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("FindUserByID"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *u
	return &c, nil
}

// Column widths of the users table, in characters.
const (
	emailWidth    = 255
	nameWidth     = 100
	googleIDWidth = 255
)

func fits(value string, width int) bool {
	return utf8.RuneCountInString(value) <= width
}

// InsertUser implements services.CredentialStore. A duplicate email yields
// apperr.ErrEmailTaken, a duplicate Google ID apperr.ErrGoogleIDTaken, and a
// value wider than its column a *apperr.StoreError.
func (m *MemoryStore) InsertUser(_ context.Context, nu models.NewUser) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("InsertUser"); err != nil {
		return 0, err
	}

	email := models.NormalizeEmail(nu.Email)
	if !fits(email, emailWidth) || !fits(nu.FirstName, nameWidth) || !fits(nu.LastName, nameWidth) ||
		(nu.GoogleID != nil && !fits(*nu.GoogleID, googleIDWidth)) {
		return 0, &apperr.StoreError{Op: "insert_user"}
	}
	if _, exists := m.byEmail[email]; exists {
		return 0, apperr.ErrEmailTaken
	}
	if nu.GoogleID != nil && m.googleIDTaken(*nu.GoogleID, 0) {
		return 0, apperr.ErrGoogleIDTaken
	}

	m.nextUserID++
	m.users[m.nextUserID] = &models.User{
		ID:            m.nextUserID,
		Email:         email,
		PasswordHash:  nu.PasswordHash,
		FirstName:     nu.FirstName,
		LastName:      nu.LastName,
		Status:        nu.Status,
		EmailVerified: nu.EmailVerified,
		GoogleID:      nu.GoogleID,
		PictureURL:    nu.PictureURL,
		CreatedAt:     time.Now(),
	}
	m.byEmail[email] = m.nextUserID
	if nu.VerificationToken != "" {
		m.verifications[m.nextUserID] = nu.VerificationToken
	}
	return m.nextUserID, nil
}

// googleIDTaken reports whether a user other than except holds googleID.
func (m *MemoryStore) googleIDTaken(googleID string, except int64) bool {
	for id, u := range m.users {
		if id != except && u.GoogleID != nil && *u.GoogleID == googleID {
			return true
		}
	}
	return false
}

// TouchLastLogin implements services.CredentialStore.
func (m *MemoryStore) TouchLastLogin(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("TouchLastLogin"); err != nil {
		return err
	}
	u, ok := m.users[id]
	if !ok {
		return apperr.ErrNotFound
	}
	now := time.Now()
	u.LastLogin = &now
	return nil
}

// LinkGoogleID implements services.CredentialStore.
func (m *MemoryStore) LinkGoogleID(_ context.Context, id int64, googleID string, pictureURL *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("LinkGoogleID"); err != nil {
		return err
	}
	u, ok := m.users[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if u.GoogleID == nil {
		if m.googleIDTaken(googleID, id) {
			return apperr.ErrGoogleIDTaken
		}
		u.GoogleID = &googleID
	}
	if pictureURL != nil {
		u.PictureURL = pictureURL
	}
	return nil
}

// InsertActivityLog implements services.ActivityStore.
func (m *MemoryStore) InsertActivityLog(_ context.Context, entry *models.ActivityLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("InsertActivityLog"); err != nil {
		return err
	}
	e := *entry
	e.ID = int64(len(m.activity) + 1)
	e.CreatedAt = time.Now()
	m.activity = append(m.activity, e)
	return nil
}

// InsertRememberToken implements services.RememberStore.
func (m *MemoryStore) InsertRememberToken(_ context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("InsertRememberToken"); err != nil {
		return err
	}
	m.insertToken(userID, tokenHash, expiresAt)
	return nil
}

func (m *MemoryStore) insertToken(userID int64, tokenHash string, expiresAt time.Time) {
	m.nextTokenID++
	m.tokens[tokenHash] = &models.RememberToken{
		ID:        m.nextTokenID,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
}

// FindRememberToken implements services.RememberStore.
func (m *MemoryStore) FindRememberToken(_ context.Context, tokenHash string) (*models.RememberToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("FindRememberToken"); err != nil {
		return nil, err
	}
	t, ok := m.tokens[tokenHash]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *t
	return &c, nil
}

// DeleteRememberToken implements services.RememberStore.
func (m *MemoryStore) DeleteRememberToken(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("DeleteRememberToken"); err != nil {
		return err
	}
	delete(m.tokens, tokenHash)
	return nil
}

// RotateRememberToken implements services.RememberStore. It returns
// apperr.ErrNotFound when oldHash was already consumed.
func (m *MemoryStore) RotateRememberToken(_ context.Context, oldHash string, userID int64, newHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("RotateRememberToken"); err != nil {
		return err
	}
	if _, ok := m.tokens[oldHash]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.tokens, oldHash)
	m.insertToken(userID, newHash, expiresAt)
	return nil
}
