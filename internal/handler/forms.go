package handler

import (
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-viper/mapstructure/v2"

	"github.com/hitoshi/retinaseo/internal/validation"
)

// maxFormBytes はフォーム送信ボディの上限。
const maxFormBytes = 64 << 10

type loginForm struct {
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required,min=6"`
}

type registerForm struct {
	Name            string `form:"name" validate:"required,min=2,max=100"`
	Email           string `form:"email" validate:"required,email"`
	Password        string `form:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `form:"confirm_password" validate:"required,eqfield=Password"`
	Terms           bool   `form:"terms" validate:"required"`
}

type generatorForm struct {
	Topic       string `form:"topic"`
	Keywords    string `form:"keywords"`
	ContentType string `form:"content_type"`
	Style       string `form:"style"`
}

type profileForm struct {
	Name  string `form:"name" validate:"required,min=2,max=100"`
	Email string `form:"email" validate:"required,email"`
}

type passwordForm struct {
	CurrentPassword string `form:"current_password"`
	NewPassword     string `form:"new_password" validate:"required,min=8,max=72"`
	ConfirmPassword string `form:"confirm_password" validate:"required,eqfield=NewPassword"`
}

type channelForm struct {
	ChannelURL string `form:"channel_url" validate:"omitempty,url,max=200"`
}

type planForm struct {
	Plan   string `form:"plan" validate:"required,oneof=free basic pro enterprise"`
	Period string `form:"period" validate:"omitempty,oneof=monthly annual"`
}

type deleteForm struct {
	Confirm bool `form:"confirm"`
}

// checkboxHook はHTMLチェックボックスの既定値"on"をtrueとして扱う。
func checkboxHook(from, to reflect.Kind, data any) (any, error) {
	if from == reflect.String && to == reflect.Bool && data == "on" {
		return true, nil
	}
	return data, nil
}

// decodeForm はPOSTフォームをformタグに従ってdstへデコードする。
// 同名フィールドが複数ある場合は先頭の値を使う。
func decodeForm(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("failed to parse form: %w", err)
	}

	values := make(map[string]any, len(r.PostForm))
	for key, v := range r.PostForm {
		if len(v) > 0 {
			values[key] = v[0]
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "form",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.DecodeHookFuncKind(checkboxHook),
		Result:           dst,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(values); err != nil {
		return fmt.Errorf("failed to decode form: %w", err)
	}
	return nil
}

// bindForm はデコードと検証をまとめて行う。
// フォームが壊れている場合は全体エラーとしてFieldErrorsの"form"キーに格納する。
func bindForm(w http.ResponseWriter, r *http.Request, dst any) validation.FieldErrors {
	if err := decodeForm(w, r, dst); err != nil {
		return validation.FieldErrors{"form": "The form could not be read. Please try again."}
	}
	return validation.Struct(dst)
}
