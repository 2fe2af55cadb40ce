package models

import (
	"time"

	"mailwizz/internal/validation"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 后台用户角色
const (
	UserRoleAdmin = "admin"
	UserRoleStaff = "staff"
)

// User 后台管理用户模型
type User struct {
	BaseModel
	UserUID     string     `gorm:"column:user_uid;uniqueIndex;size:13;not null" json:"user_uid"`
	Username    string     `gorm:"uniqueIndex;not null;size:50" json:"username" validate:"required,min=3,max=50"`
	Password    string     `gorm:"not null;size:255" json:"-"` // 不在JSON中返回密码
	Email       string     `gorm:"size:100" json:"email" validate:"omitempty,email,max=100"`
	DisplayName string     `gorm:"size:100" json:"display_name" validate:"max=100"`
	Role        string     `gorm:"not null;default:'admin';size:20" json:"role" validate:"required,oneof=admin staff"`
	Timezone    string     `gorm:"size:50;default:'UTC'" json:"timezone" validate:"omitempty,timezone"`
	IsActive    bool       `gorm:"not null;default:true" json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`
	LoginCount  int        `gorm:"default:0" json:"login_count"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// AttributeLabels 字段显示名称
func (User) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"user_uid":      "Unique ID",
		"username":      "Username",
		"email":         "Email",
		"display_name":  "Display name",
		"role":          "Role",
		"timezone":      "Timezone",
		"is_active":     "Active",
		"last_login_at": "Last login",
	})
}

// AttributeHelpTexts 字段帮助文本
func (User) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"username": "The name used to sign in to the backend",
		"role":     "Admins can manage everything, staff members only manage customers",
		"timezone": "Dates in the backend are displayed in this timezone",
	}
}

// BeforeSave 保存前生成uid并验证
func (u *User) BeforeSave(tx *gorm.DB) error {
	if err := ensureUID(tx, &User{}, "user_uid", &u.UserUID); err != nil {
		return err
	}
	return validation.Struct(u)
}

// BeforeCreate 创建前钩子，加密密码
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.Password != "" && !isBcryptHash(u.Password) {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		u.Password = string(hashedPassword)
	}
	return nil
}

// BeforeUpdate 更新前钩子，明文密码会被加密
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	if u.Password != "" && !isBcryptHash(u.Password) {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		u.Password = string(hashedPassword)
	}
	return nil
}

// CheckPassword 验证密码
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	return err == nil
}

// SetPassword 设置密码（手动加密）
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

// isBcryptHash 判断是否已经是bcrypt哈希
func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}
