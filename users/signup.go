package users

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// MaxProfileImageBytes caps the optional profile image sent with a signup.
const MaxProfileImageBytes = 5 * 1024 * 1024

var mobileNumberPattern = regexp.MustCompile(`^\+?\d{10,15}$`)

// SignupFormErr matches every FormError.
var SignupFormErr = errors.New("invalid signup form")

// FormError is a signup form problem whose message is fit for display.
type FormError struct {
	Msg string
}

func (e *FormError) Error() string        { return e.Msg }
func (e *FormError) Is(target error) bool { return target == SignupFormErr }

// FileUpload is a binary attachment carried by a multipart request.
type FileUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SignupForm is the multi-field registration payload. Field names match the multipart keys.
type SignupForm struct {
	Email        string      `form:"email" validate:"required,email"`
	FullName     string      `form:"fullName" validate:"required"`
	Password     string      `form:"password" validate:"required,min=8,password_strength"`
	MobileNumber string      `form:"mobileNumber" validate:"required,mobile_number"`
	Role         RoleType    `form:"role" validate:"required,oneof=Admin Doctor Patient"`
	Address      string      `form:"address" validate:"required"`
	Image        *FileUpload `form:"image" validate:"omitempty"`
}

// Fields returns the text parts of the form in a stable order.
func (f SignupForm) Fields() [][2]string {
	return [][2]string{
		{"email", f.Email},
		{"fullName", f.FullName},
		{"password", f.Password},
		{"mobileNumber", f.MobileNumber},
		{"role", string(f.Role)},
		{"address", f.Address},
	}
}

var formValidator = newFormValidator()

func newFormValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("password_strength", func(fl validator.FieldLevel) bool {
		return ValidatePasswordStrength(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("mobile_number", func(fl validator.FieldLevel) bool {
		return mobileNumberPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks the form the way the registration screen does before submitting it.
// The returned error message is suitable for display.
func (f SignupForm) Validate() error {
	if err := formValidator.Struct(f); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return &FormError{Msg: signupFieldMessage(fieldErrs[0])}
		}
		return errors.Wrap(err, "SignupForm.Validate")
	}
	if f.Image != nil {
		if !strings.HasPrefix(f.Image.ContentType, "image/") {
			return &FormError{Msg: "please select a valid image file"}
		}
		if len(f.Image.Data) > MaxProfileImageBytes {
			return &FormError{Msg: "image file size must be less than 5MB"}
		}
	}
	return nil
}

func signupFieldMessage(fe validator.FieldError) string {
	switch {
	case fe.Tag() == "required":
		return "please fill out all required fields"
	case fe.Field() == "Email":
		return "please enter a valid email address"
	case fe.Field() == "Password":
		return "password must be at least 8 characters long, include uppercase, lowercase, number, and special character"
	case fe.Field() == "MobileNumber":
		return "please enter a valid mobile number"
	case fe.Field() == "Role":
		return "role must be one of Admin, Doctor or Patient"
	}
	return fmt.Sprintf("invalid %s", fe.Field())
}

// ValidatePasswordStrength checks if password meets the registration rules:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number and one special character
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters long")
	}

	var (
		hasUpper   bool
		hasLower   bool
		hasNumber  bool
		hasSpecial bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case strings.ContainsRune("@$!%*?&", char):
			hasSpecial = true
		}
	}

	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	if !hasSpecial {
		return errors.New("password must contain at least one special character")
	}

	return nil
}
