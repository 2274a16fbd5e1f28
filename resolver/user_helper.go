package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"googlesso/adapters/oidc"
	"googlesso/adapters/session"
	"googlesso/conf"
	"googlesso/models"
)

var ErrUserNotFound = errors.New("user not found")

// Locker 以 key 取得分散式鎖，回傳的 context 在鎖失效時取消
type Locker interface {
	Lock(ctx context.Context, key string) (context.Context, func(), error)
}

// MessageSink 接收要顯示給使用者的訊息
type MessageSink func(level session.MessageLevel, text string)

type pendingMessage struct {
	level session.MessageLevel
	text  string
}

// UserHelper 將 Google 回傳的使用者資料對應到本地使用者
type UserHelper struct {
	identity *oidc.Identity
	db       *gorm.DB
	settings conf.Resolved
	locker   Locker
	logger   *slog.Logger
	notify   MessageSink

	userChanged bool
	pending     []pendingMessage
}

type Option func(*UserHelper)

// WithLocker 使用分散式鎖序列化同一個 Email 的使用者建立
func WithLocker(locker Locker) Option {
	return func(h *UserHelper) {
		h.locker = locker
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *UserHelper) {
		h.logger = logger
	}
}

func WithMessageSink(sink MessageSink) Option {
	return func(h *UserHelper) {
		h.notify = sink
	}
}

func NewUserHelper(identity *oidc.Identity, db *gorm.DB, settings conf.Resolved, opts ...Option) *UserHelper {
	h := &UserHelper{
		identity: identity,
		db:       db,
		settings: settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// UserEmail 回傳小寫的 Email
func (h *UserHelper) UserEmail() string {
	return strings.ToLower(strings.TrimSpace(h.identity.Email))
}

func (h *UserHelper) emailDomain() string {
	email := h.UserEmail()
	return email[strings.LastIndex(email, "@")+1:]
}

// EmailIsValid 檢查 Email 的網域是否在允許清單中
// 只看網域，不論 Google 是否驗證過 Email；清單為空時一律拒絕
func (h *UserHelper) EmailIsValid() bool {
	domain := h.emailDomain()
	for _, allowed := range h.settings.AllowableDomains {
		if domainMatches(domain, allowed) {
			return true
		}
	}
	if h.identity.EmailVerified != nil && !*h.identity.EmailVerified {
		h.logger.Debug("Email is not verified", slog.String("email", h.UserEmail()))
	}
	return false
}

// domainMatches 比對網域，支援 "*" 與 "*.example.com"
func domainMatches(domain, pattern string) bool {
	pattern = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(pattern)), "@")
	switch {
	case pattern == "":
		return false
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(domain, pattern[1:])
	default:
		return domain == pattern
	}
}

// inList 檢查 Email 是否在清單中，"*" 代表所有人
func inList(email string, list []string) bool {
	return lo.ContainsBy(list, func(item string) bool {
		item = strings.TrimSpace(item)
		return item == "*" || strings.EqualFold(item, email)
	})
}

// GetOrCreateUser 以 Email 取得使用者，不存在時建立
// 新使用者的名稱、密碼與權限在第一次寫入前就決定好，一次寫入資料庫
func (h *UserHelper) GetOrCreateUser(ctx context.Context, defaults *models.UserDefaults) (*models.User, bool, error) {
	const op = "UserHelper.GetOrCreateUser"
	email := h.UserEmail()
	if h.locker != nil {
		lockCtx, release, err := h.locker.Lock(ctx, "google_sso:user:"+email)
		if err != nil {
			return nil, false, fmt.Errorf("[%s] Fail to lock user, err=%w", op, err)
		}
		defer release()
		ctx = lockCtx
	}

	var user models.User
	var created bool
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h.reset()
		found, err := h.findByEmail(tx, &user)
		if err != nil {
			return err
		}
		if !found {
			candidate := h.newUser(defaults)
			if err := h.checkFirstSuperUser(tx, &candidate); err != nil {
				return err
			}
			h.checkForUpdate(true, &candidate)
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "email"}},
				DoNothing: true,
			}).Create(&candidate)
			if result.Error != nil {
				return fmt.Errorf("fail to create user, err=%w", result.Error)
			}
			if result.RowsAffected == 1 {
				user = candidate
				created = true
				return h.saveGoogleInfo(tx, &user)
			}
			// 其他請求已經建立同一個 Email 的使用者
			h.reset()
			if found, err = h.findByEmail(tx, &user); err != nil {
				return err
			} else if !found {
				return fmt.Errorf("user disappeared after conflict, email=%s", email)
			}
		}
		return h.updateExisting(tx, &user)
	})
	if err != nil {
		return nil, false, fmt.Errorf("[%s] Fail to get or create user, err=%w", op, err)
	}
	h.flush()
	return &user, created, nil
}

// FindUser 以 Email 取得已存在的使用者，不會建立使用者
func (h *UserHelper) FindUser(ctx context.Context) (*models.User, error) {
	const op = "UserHelper.FindUser"
	var user models.User
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h.reset()
		found, err := h.findByEmail(tx, &user)
		if err != nil {
			return err
		}
		if !found {
			return ErrUserNotFound
		}
		return h.updateExisting(tx, &user)
	})
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to find user, err=%w", op, err)
	}
	h.flush()
	return &user, nil
}

func (h *UserHelper) reset() {
	h.userChanged = false
	h.pending = nil
}

func (h *UserHelper) findByEmail(tx *gorm.DB, user *models.User) (bool, error) {
	result := tx.Where("LOWER(email) = ?", h.UserEmail()).Limit(1).Find(user)
	if result.Error != nil {
		return false, fmt.Errorf("fail to find user by email, err=%w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (h *UserHelper) newUser(defaults *models.UserDefaults) models.User {
	user := models.User{
		Email:    h.UserEmail(),
		Username: h.UserEmail(),
		IsActive: true,
	}
	defaults.Apply(&user)
	return user
}

func (h *UserHelper) updateExisting(tx *gorm.DB, user *models.User) error {
	if err := h.checkFirstSuperUser(tx, user); err != nil {
		return err
	}
	h.checkForUpdate(false, user)
	if h.userChanged {
		if err := tx.Save(user).Error; err != nil {
			return fmt.Errorf("fail to update user, err=%w", err)
		}
	}
	return h.saveGoogleInfo(tx, user)
}

// checkForUpdate 在建立使用者或設定為每次更新時，以 Google 資料覆寫使用者
func (h *UserHelper) checkForUpdate(created bool, user *models.User) {
	if !created && !h.settings.AlwaysUpdateUserData {
		return
	}
	h.checkForPermissions(user)
	user.FirstName = h.identity.GivenName
	user.LastName = h.identity.FamilyName
	if user.Username == "" {
		user.Username = h.UserEmail()
	}
	// 之後只能透過 Google 登入
	user.SetUnusablePassword()
	h.userChanged = true
}

func (h *UserHelper) checkForPermissions(user *models.User) {
	email := h.UserEmail()
	if inList(email, h.settings.StaffList) {
		h.addMessage(session.LevelInfo, fmt.Sprintf("User email: %s in GOOGLE_SSO_STAFF_LIST. Added Staff Permission.", email))
		user.IsStaff = true
	}
	if inList(email, h.settings.SuperuserList) {
		h.addMessage(session.LevelInfo, fmt.Sprintf("User email: %s in GOOGLE_SSO_SUPERUSER_LIST. Added SuperUser Permission.", email))
		user.IsSuperuser = true
		user.IsStaff = true
	}
}

// checkFirstSuperUser 網域中還沒有超級使用者時，將目前的使用者設為超級使用者
func (h *UserHelper) checkFirstSuperUser(tx *gorm.DB, user *models.User) error {
	if !h.settings.AutoCreateFirstSuperuser || user.IsSuperuser {
		return nil
	}
	var count int64
	result := tx.Model(&models.User{}).
		Where("is_superuser = ? AND LOWER(email) LIKE ?", true, "%@"+h.emailDomain()).
		Count(&count)
	if result.Error != nil {
		return fmt.Errorf("fail to count superusers, err=%w", result.Error)
	}
	if count > 0 {
		return nil
	}
	text := fmt.Sprintf("GOOGLE_SSO_AUTO_CREATE_FIRST_SUPERUSER is True. Adding SuperUser status to email: %s", h.UserEmail())
	h.logger.Warn(text)
	h.addMessage(session.LevelInfo, text)
	user.IsSuperuser = true
	user.IsStaff = true
	h.userChanged = true
	return nil
}

func (h *UserHelper) saveGoogleInfo(tx *gorm.DB, user *models.User) error {
	if !h.settings.SaveBasicGoogleInfo {
		return nil
	}
	link := models.GoogleSSOUser{
		UserID:     user.ID,
		GoogleID:   h.identity.Subject,
		PictureURL: h.identity.Picture,
		Locale:     h.identity.LocaleOr(h.settings.DefaultLocale),
	}
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"google_id", "picture_url", "locale", "updated_at"}),
	}).Create(&link)
	if result.Error != nil {
		return fmt.Errorf("fail to save google sso user, err=%w", result.Error)
	}
	user.GoogleSSO = &link
	return nil
}

func (h *UserHelper) addMessage(level session.MessageLevel, text string) {
	h.logger.Debug(text)
	h.pending = append(h.pending, pendingMessage{level: level, text: text})
}

// flush 在交易成功後才送出訊息
func (h *UserHelper) flush() {
	if h.notify != nil {
		for _, m := range h.pending {
			h.notify(m.level, m.text)
		}
	}
	h.pending = nil
}
