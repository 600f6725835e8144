package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/iudanet/gophsync/pkg/api"
)

// Operation зашифрованная неизменяемая операция.
// Адресуется парой (Owner, Timestamp); хранилище видит только шифротекст.
type Operation struct {
	Ciphertext []byte             // AES-GCM(Change), AAD = owner || timestamp
	Owner      api.OwnerID        // владелец (граница изоляции)
	Timestamp  api.TimestampBytes // бинарная HLC метка
}

// SameBody проверяет, что две операции с одним ключом несут одинаковое тело.
// Разные тела при одном ключе - нарушение целостности.
func (o Operation) SameBody(other Operation) bool {
	return bytes.Equal(o.Ciphertext, other.Ciphertext)
}

// Size размер операции на проводе
func (o Operation) Size() int {
	return api.TimestampSize + len(o.Ciphertext)
}

// Change расшифрованное содержимое операции: запись одной колонки строки.
type Change struct {
	Table  string          `json:"table"`
	Row    string          `json:"id"`
	Column string          `json:"column"`
	Value  json.RawMessage `json:"value"`
}

// Owner локальная запись о владельце на устройстве.
// Секрет хранится зашифрованным ключом из пароля.
type Owner struct {
	CreatedAt       time.Time   `json:"created_at"`
	Salt            []byte      `json:"salt"`             // соль Argon2id
	EncryptedSecret []byte      `json:"encrypted_secret"` // AES-GCM(secret)
	ID              api.OwnerID `json:"id"`
	Node            string      `json:"node"` // hex NodeID этого устройства
}

// RelayOwner владелец на стороне relay
type RelayOwner struct {
	CreatedAt time.Time   `json:"created_at"`
	TokenKey  string      `json:"token_key"` // hex SHA256(write key)
	UsedBytes int64       `json:"used_bytes"`
	ID        api.OwnerID `json:"id"`
}
