package validation

import (
	"fmt"
	"regexp"
)

// TableNamePattern определяет допустимый формат имени таблицы.
// Латинская буква в начале, далее буквы, цифры и нижнее подчеркивание.
// Длина: 1-64 символа.
var TableNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,63}$`)

const (
	// MaxTableNameLen максимальная длина имени таблицы
	MaxTableNameLen = 64
	// MaxRecordIDLen максимальная длина идентификатора записи
	MaxRecordIDLen = 256
)

// ValidateTableName проверяет, что имя таблицы соответствует требованиям.
// The name becomes part of URL paths and store keys, so the character set
// is deliberately narrow.
func ValidateTableName(table string) error {
	if table == "" {
		return fmt.Errorf("table name cannot be empty")
	}

	if len(table) > MaxTableNameLen {
		return fmt.Errorf("table name must not exceed %d characters", MaxTableNameLen)
	}

	if !TableNamePattern.MatchString(table) {
		return fmt.Errorf("table name must start with a letter and contain only letters, numbers, and underscores")
	}

	return nil
}

// ValidateRecordID проверяет идентификатор записи.
// IDs are client-generated UUIDs by default, but callers may supply their
// own; anything printable that fits in a URL segment is accepted.
func ValidateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("record id cannot be empty")
	}

	if len(id) > MaxRecordIDLen {
		return fmt.Errorf("record id must not exceed %d characters", MaxRecordIDLen)
	}

	for _, c := range id {
		if c < 0x20 || c == 0x7f {
			return fmt.Errorf("record id must not contain control characters")
		}
		if c == '/' || c == '?' || c == '#' {
			return fmt.Errorf("record id must not contain %q", c)
		}
	}

	return nil
}
