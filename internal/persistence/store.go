package persistence

// Store is a durable key/value port for small scalar state: notification
// thread mappings and circuit-breaker fields. Keys are scoped by account so
// several accounts can share one database. A missing key is not an error;
// the second return value reports presence.
//
// Writes must be durable before they return: in-memory state is only
// considered committed once the corresponding Set has succeeded.
type Store interface {
	SetString(accountID, key, value string) error
	GetString(accountID, key string) (string, bool, error)

	SetInt64(accountID, key string, value int64) error
	GetInt64(accountID, key string) (int64, bool, error)

	SetFloat64(accountID, key string, value float64) error
	GetFloat64(accountID, key string) (float64, bool, error)

	// Close gracefully closes the underlying database.
	Close() error
}
