package validation

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/iudanet/gophsync/internal/models"
)

// IdentifierPattern определяет допустимый формат имен таблиц и колонок
// Латинские буквы, цифры, нижнее подчеркивание; первый символ - буква или _
var IdentifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	// MaxIdentifierLen максимальная длина имени таблицы или колонки
	MaxIdentifierLen = 64
	// MaxRowIDLen максимальная длина идентификатора строки
	MaxRowIDLen = 128
	// MaxValueSize максимальный размер JSON значения
	MaxValueSize = 512 * 1024
)

// ValidateIdentifier проверяет имя таблицы или колонки.
func ValidateIdentifier(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}

	if len(name) > MaxIdentifierLen {
		return fmt.Errorf("%s must not exceed %d characters", kind, MaxIdentifierLen)
	}

	if !IdentifierPattern.MatchString(name) {
		return fmt.Errorf("%s can only contain letters (a-z, A-Z), numbers (0-9), and underscores (_)", kind)
	}

	return nil
}

// ValidateRowID проверяет идентификатор строки
func ValidateRowID(id string) error {
	if id == "" {
		return fmt.Errorf("row id cannot be empty")
	}
	if len(id) > MaxRowIDLen {
		return fmt.Errorf("row id must not exceed %d characters", MaxRowIDLen)
	}
	return nil
}

// ValidateChange проверяет расшифрованную операцию перед применением.
func ValidateChange(change *models.Change) error {
	if change == nil {
		return fmt.Errorf("change cannot be nil")
	}
	if err := ValidateIdentifier("table", change.Table); err != nil {
		return err
	}
	if err := ValidateIdentifier("column", change.Column); err != nil {
		return err
	}
	if err := ValidateRowID(change.Row); err != nil {
		return err
	}

	if len(change.Value) > MaxValueSize {
		return fmt.Errorf("value must not exceed %d bytes", MaxValueSize)
	}
	if len(change.Value) == 0 || !json.Valid(change.Value) {
		return fmt.Errorf("value must be valid JSON")
	}

	return nil
}

// ValidatePassphrase проверяет минимальные требования к паролю владельца
// Минимум 12 символов
func ValidatePassphrase(passphrase string) error {
	const minPassphraseLen = 12

	if passphrase == "" {
		return fmt.Errorf("passphrase cannot be empty")
	}

	if len(passphrase) < minPassphraseLen {
		return fmt.Errorf("passphrase must be at least %d characters long", minPassphraseLen)
	}

	return nil
}
