package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diewo77/invoiceflow/auth"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/validation"
)

// PlanInvoiceLimits is the monthly invoice allowance per plan shown on the
// billing page. Zero means unlimited.
var PlanInvoiceLimits = map[string]int64{
	models.PlanFree: 25,
	models.PlanPro:  0,
}

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ProfileService manages accounts and their settings.
type ProfileService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{db: db, now: time.Now}
}

// SignupInput is the registration form.
type SignupInput struct {
	Name     string
	Email    string
	Password string
	Confirm  string
}

// Signup creates a user and the default profile in one transaction.
func (s *ProfileService) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	v := validation.Violations{}
	validation.Required("email", in.Email, v)
	validation.Email("email", in.Email, v)
	validation.MaxLength("email", in.Email, 255, v)
	validation.MaxLength("name", in.Name, 255, v)
	checkNewPassword("password", in.Password, in.Confirm, v)
	if err := Invalid(v); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{Email: in.Email, Name: in.Name, Password: hash}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return Invalid(validation.Violations{"email": "email_taken"})
			}
			return fmt.Errorf("create user: %w", err)
		}
		profile := models.NewUserProfile(user.ID)
		profile.CompanyName = in.Name
		if err := tx.Create(&profile).Error; err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		user.Profile = &profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func checkNewPassword(field, password, confirm string, v validation.Violations) {
	if len(password) < auth.MinPasswordLength {
		v.Add(field, "password_too_short")
	}
	if password != confirm {
		v.Add("confirm", "password_mismatch")
	}
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Authenticate checks credentials.
func (s *ProfileService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// User loads a user with the profile.
func (s *ProfileService) User(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("Profile").First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	if user.Profile == nil {
		p, err := s.Profile(ctx, id)
		if err != nil {
			return nil, err
		}
		user.Profile = p
	}
	return &user, nil
}

// Exists reports whether a user id is still present. Used to reject
// sessions of deleted accounts.
func (s *ProfileService) Exists(ctx context.Context, id uint) bool {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Limit(1).Count(&n).Error
	return err == nil && n > 0
}

// Profile returns the user's profile, creating the default one if missing.
func (s *ProfileService) Profile(ctx context.Context, userID uint) (*models.UserProfile, error) {
	return profileTx(s.db.WithContext(ctx), userID)
}

func profileTx(tx *gorm.DB, userID uint) (*models.UserProfile, error) {
	var p models.UserProfile
	err := tx.Where("user_id = ?", userID).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	p = models.NewUserProfile(userID)
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	if err := tx.Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// AccountInput is the personal profile form.
type AccountInput struct {
	Name  string
	Email string
}

// UpdateAccount changes the name and login email.
func (s *ProfileService) UpdateAccount(ctx context.Context, userID uint, in AccountInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	v := validation.Violations{}
	validation.MaxLength("name", in.Name, 255, v)
	validation.Required("email", in.Email, v)
	validation.Email("email", in.Email, v)
	if err := Invalid(v); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]any{"name": in.Name, "email": in.Email})
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return Invalid(validation.Violations{"email": "email_taken"})
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BusinessInput is the business settings form.
type BusinessInput struct {
	CompanyName    string
	Address        string
	Phone          string
	TaxID          string
	Currency       string
	TaxRate        decimal.Decimal
	InvoicePrefix  string
	Timezone       string
	DefaultDueDays int
}

func (in *BusinessInput) normalize() {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.Address = strings.TrimSpace(in.Address)
	in.Phone = strings.TrimSpace(in.Phone)
	in.TaxID = strings.TrimSpace(in.TaxID)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.InvoicePrefix = strings.TrimSpace(in.InvoicePrefix)
	in.Timezone = strings.TrimSpace(in.Timezone)
}

// Validate checks the business form.
func (in BusinessInput) Validate() validation.Violations {
	v := validation.Violations{}
	validation.MaxLength("company_name", in.CompanyName, 255, v)
	validation.MaxLength("address", in.Address, 1000, v)
	validation.MaxLength("phone", in.Phone, 50, v)
	validation.MaxLength("tax_id", in.TaxID, 64, v)
	validation.OneOf("currency", in.Currency, models.Currencies, v)
	validation.Range("tax_rate", in.TaxRate, decimal.Zero, maxTaxRate, v)
	validation.MaxPlaces("tax_rate", in.TaxRate, 2, v)
	validation.Required("invoice_prefix", in.InvoicePrefix, v)
	validation.MaxLength("invoice_prefix", in.InvoicePrefix, 16, v)
	if in.InvoicePrefix != "" && !prefixPattern.MatchString(in.InvoicePrefix) {
		v.Add("invoice_prefix", "invalid_choice")
	}
	validation.Timezone("timezone", in.Timezone, v)
	if in.DefaultDueDays < 0 || in.DefaultDueDays > 365 {
		v.Add("default_due_days", "out_of_range")
	}
	return v
}

// UpdateBusiness saves the business settings.
func (s *ProfileService) UpdateBusiness(ctx context.Context, userID uint, in BusinessInput) error {
	in.normalize()
	if err := Invalid(in.Validate()); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := profileTx(tx, userID)
		if err != nil {
			return err
		}
		return tx.Model(p).Updates(map[string]any{
			"company_name":     in.CompanyName,
			"address":          in.Address,
			"phone":            in.Phone,
			"tax_id":           in.TaxID,
			"currency":         in.Currency,
			"tax_rate":         in.TaxRate,
			"invoice_prefix":   in.InvoicePrefix,
			"timezone":         in.Timezone,
			"default_due_days": in.DefaultDueDays,
		}).Error
	})
}

// SetLogo records a stored logo and returns the key it replaced.
func (s *ProfileService) SetLogo(ctx context.Context, userID uint, key, url string) (string, error) {
	var old string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := profileTx(tx, userID)
		if err != nil {
			return err
		}
		old = p.LogoKey
		return tx.Model(p).Updates(map[string]any{"logo_key": key, "logo_url": url}).Error
	})
	return old, err
}

// ChangePassword verifies the current password and stores a new hash.
func (s *ProfileService) ChangePassword(ctx context.Context, userID uint, current, next, confirm string) error {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return notFound(err)
	}
	v := validation.Violations{}
	if !auth.CheckPassword(user.Password, current) {
		v.Add("current", "wrong_password")
	}
	checkNewPassword("new", next, confirm, v)
	if err := Invalid(v); err != nil {
		return err
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&user).Update("password", hash).Error
}

// NotificationInput holds the notification toggles.
type NotificationInput struct {
	NotifyOnSend  bool
	NotifyOverdue bool
}

// UpdateNotifications saves the notification toggles.
func (s *ProfileService) UpdateNotifications(ctx context.Context, userID uint, in NotificationInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := profileTx(tx, userID)
		if err != nil {
			return err
		}
		return tx.Model(p).Updates(map[string]any{
			"notify_on_send": in.NotifyOnSend,
			"notify_overdue": in.NotifyOverdue,
		}).Error
	})
}

// Usage is the billing page summary for the current month.
type Usage struct {
	Plan              string
	PeriodStart       time.Time
	InvoicesThisMonth int64
	EmailsThisMonth   int64
	InvoiceLimit      int64
}

// Remaining is the invoices left this month, or -1 when unlimited.
func (u Usage) Remaining() int64 {
	if u.InvoiceLimit == 0 {
		return -1
	}
	if left := u.InvoiceLimit - u.InvoicesThisMonth; left > 0 {
		return left
	}
	return 0
}

// Usage counts this month's invoices and sent emails in the profile's time
// zone.
func (s *ProfileService) Usage(ctx context.Context, userID uint) (Usage, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	local := s.now().In(p.Location())
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, p.Location()).UTC()
	u := Usage{Plan: p.Plan, PeriodStart: start, InvoiceLimit: PlanInvoiceLimits[p.Plan]}

	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Invoice{}).
		Where("user_id = ? AND created_at >= ?", userID, start).
		Count(&u.InvoicesThisMonth).Error; err != nil {
		return u, err
	}
	if err := db.Model(&models.EmailJob{}).
		Where("user_id = ? AND status = ? AND sent_at >= ?", userID, models.JobSent, start).
		Count(&u.EmailsThisMonth).Error; err != nil {
		return u, err
	}
	return u, nil
}
