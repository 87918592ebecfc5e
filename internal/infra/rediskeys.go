package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "relgate"
)

// Ключи для Hash (состояние)
const (
	RedisKeyApprovalPrefix = RedisNamespace + ":approvals:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanApprovalEvents — канал для трансляции событий по заявкам (создана, решена).
	RedisChanApprovalEvents = RedisNamespace + ":approvals:events"
)

// ApprovalKey Генератор ключа заявки
func ApprovalKey(id string) string {
	return RedisKeyApprovalPrefix + id
}
