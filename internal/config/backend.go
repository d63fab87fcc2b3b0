package config

// ConfigBackend is where `config set` writes and Load reads persisted
// values. Keys are the dotted names from the specs table.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
