package devbackend

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jrsteele09/vmcp-gateway/apiclient"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/jrsteele09/vmcp-gateway/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

// User is a backend account. PasswordHash is empty for accounts created
// through an OAuth provider.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	PhotoURL     string
	Provider     string
	DateJoined   time.Time
	LastLogin    time.Time
	Verified     bool
	Blocked      bool
}

// Record renders the user the way /api/userinfo returns it.
func (u *User) Record() apiclient.User {
	rec := apiclient.User{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		FullName:   strings.TrimSpace(u.FirstName + " " + u.LastName),
		IsActive:   !u.Blocked,
		IsVerified: u.Verified,
		CreatedAt:  u.DateJoined.UTC().Format(time.RFC3339),
		PhotoURL:   u.PhotoURL,
	}
	if !u.LastLogin.IsZero() {
		rec.LastLogin = utils.Ptr(u.LastLogin.UTC().Format(time.RFC3339))
	}
	return rec
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var hasUpper, hasLower, hasNumber bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}
	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// userRepo is a thread-safe in-memory user table indexed by id, email and
// username. Reads return copies.
type userRepo struct {
	users     map[string]*User
	emailIds  map[string]string
	usernames map[string]string
	lock      sync.RWMutex
}

func newUserRepo() *userRepo {
	return &userRepo{
		users:     make(map[string]*User),
		emailIds:  make(map[string]string),
		usernames: make(map[string]string),
	}
}

func (ur *userRepo) Upsert(user *User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	email := strings.ToLower(user.Email)
	if id, ok := ur.emailIds[email]; ok && id != user.ID {
		return fmt.Errorf("%w: email %s already registered", apperrors.ErrRejected, user.Email)
	}
	if id, ok := ur.usernames[user.Username]; ok && user.Username != "" && id != user.ID {
		return fmt.Errorf("%w: username %s already taken", apperrors.ErrRejected, user.Username)
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	cp := *user
	ur.users[user.ID] = &cp
	ur.emailIds[email] = user.ID
	if user.Username != "" {
		ur.usernames[user.Username] = user.ID
	}
	return nil
}

func (ur *userRepo) GetByID(id string) (*User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	u, ok := ur.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (ur *userRepo) GetByEmail(email string) (*User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.emailIds[strings.ToLower(email)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *ur.users[id]
	return &cp, nil
}

// GetByLogin resolves a login name, which may be a username or an email.
func (ur *userRepo) GetByLogin(login string) (*User, error) {
	ur.lock.RLock()
	id, ok := ur.usernames[login]
	ur.lock.RUnlock()
	if ok {
		return ur.GetByID(id)
	}
	return ur.GetByEmail(login)
}

func (ur *userRepo) SetLastLogin(id string, at time.Time) {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	if u, ok := ur.users[id]; ok {
		u.LastLogin = at
	}
}

func (ur *userRepo) SetBlocked(id string, blocked bool) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	u, ok := ur.users[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	u.Blocked = blocked
	return nil
}

func (ur *userRepo) List() []*User {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	list := make([]*User, 0, len(ur.users))
	for _, u := range ur.users {
		cp := *u
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Email < list[j].Email })
	return list
}
