package services

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/ieraasyl/StorefrontAuth/pkg/apperr"
	"github.com/microcosm-cc/bluemonday"
)

// RegisterInput is the body of the register action.
type RegisterInput struct {
	FirstName       string `json:"first_name" validate:"required,max=100"`
	LastName        string `json:"last_name" validate:"required,max=100"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,min_password"`
	ConfirmPassword string `json:"confirm_password" validate:"eqfield=Password"`
}

// LoginInput is the body of the login action.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required"`
	Remember bool   `json:"remember"`
}

// GoogleLoginInput is the body of the google-login action. Token is the
// Google ID token; the remaining fields are the client's copy of its claims.
type GoogleLoginInput struct {
	Token     string `json:"token" validate:"required"`
	GoogleID  string `json:"google_id" validate:"required,max=255"`
	Email     string `json:"email" validate:"required,max=255"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Picture   string `json:"picture" validate:"omitempty,url"`
}

// MaxNameLength is the width of the first_name and last_name columns, in
// characters. The validator's max tag counts runes the same way.
const MaxNameLength = 100

// rule maps one failed field/tag pair to its client message. Rules are
// checked in order, so the first listed failure wins.
type rule struct {
	field   string // empty matches any field
	tag     string
	message string
}

// InputValidator normalizes and validates request bodies.
//
// Emails are trimmed and lower-cased, names are trimmed and stripped of
// markup, passwords are left exactly as sent.
type InputValidator struct {
	validate          *validator.Validate
	policy            *bluemonday.Policy
	minPasswordLength int
	registerRules     []rule
	loginRules        []rule
}

// NewInputValidator creates a validator enforcing the given minimum password
// length (in bytes).
//
// Example:
//
//	inputs := services.NewInputValidator(cfg.Security.PasswordMinLength)
func NewInputValidator(minPasswordLength int) *InputValidator {
	v := &InputValidator{
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		policy:            bluemonday.StrictPolicy(),
		minPasswordLength: minPasswordLength,
	}

	// Registration happens once, before the validator is shared.
	_ = v.validate.RegisterValidation("min_password", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) >= v.minPasswordLength
	})

	v.registerRules = []rule{
		{tag: "required", message: "All fields are required"},
		{field: "Email", tag: "max", message: "Email is too long"},
		{field: "Email", tag: "email", message: "Invalid email format"},
		{field: "FirstName", tag: "max", message: fmt.Sprintf("First name must be at most %d characters", MaxNameLength)},
		{field: "LastName", tag: "max", message: fmt.Sprintf("Last name must be at most %d characters", MaxNameLength)},
		{field: "Password", tag: "min_password", message: fmt.Sprintf("Password must be at least %d characters", minPasswordLength)},
		{field: "ConfirmPassword", tag: "eqfield", message: "Passwords do not match"},
	}
	v.loginRules = []rule{
		{tag: "required", message: "Email and password are required"},
		{field: "Email", tag: "max", message: "Email is too long"},
		{field: "Email", tag: "email", message: "Invalid email format"},
	}
	return v
}

// Register normalizes in and checks it. Returns an apperr validation error.
func (v *InputValidator) Register(in *RegisterInput) error {
	in.FirstName = v.SanitizeName(in.FirstName)
	in.LastName = v.SanitizeName(in.LastName)
	in.Email = models.NormalizeEmail(in.Email)

	return v.check(in, v.registerRules)
}

// Login normalizes in and checks it.
func (v *InputValidator) Login(in *LoginInput) error {
	in.Email = models.NormalizeEmail(in.Email)

	return v.check(in, v.loginRules)
}

// GoogleLogin normalizes in and checks that the token, Google ID and email
// are present. Every failure has the same message.
func (v *InputValidator) GoogleLogin(in *GoogleLoginInput) error {
	in.Token = strings.TrimSpace(in.Token)
	in.GoogleID = strings.TrimSpace(in.GoogleID)
	in.Email = models.NormalizeEmail(in.Email)
	in.FirstName = v.SanitizeName(in.FirstName)
	in.LastName = v.SanitizeName(in.LastName)
	in.Picture = strings.TrimSpace(in.Picture)

	if err := v.validate.Struct(in); err != nil {
		return apperr.Validation("Invalid Google authentication data")
	}
	return nil
}

// TruncateName cuts name to MaxNameLength characters. It is for names taken
// from a verified ID token, which are accepted rather than rejected.
func TruncateName(name string) string {
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	return strings.TrimSpace(string([]rune(name)[:MaxNameLength]))
}

// SanitizeName trims a display name and strips any markup from it. The
// result is stored unescaped; escaping is the renderer's job.
func (v *InputValidator) SanitizeName(name string) string {
	return strings.TrimSpace(html.UnescapeString(v.policy.Sanitize(strings.TrimSpace(name))))
}

func (v *InputValidator) check(in interface{}, rules []rule) error {
	err := v.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("Invalid request")
	}

	for _, r := range rules {
		for _, fe := range verrs {
			if fe.Tag() == r.tag && (r.field == "" || fe.StructField() == r.field) {
				return apperr.Validation(r.message)
			}
		}
	}
	return apperr.Validation(fmt.Sprintf("Invalid %s", strings.ToLower(verrs[0].Field())))
}
