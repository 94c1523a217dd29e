package kv

import "time"

// Key templates and TTLs for every namespace the backend uses. Keys use
// ":"-separated segments; workspace segments are "{scope}/{suffix}".

// TTLs, all absolute.
const (
	TTLBotState    = 7 * 24 * time.Hour
	TTLStatus      = 30 * 24 * time.Hour
	TTLExecutor    = 7 * 24 * time.Hour
	TTLSecret      = 8 * time.Hour // one workday
	TTLChannel     = 10 * time.Minute
	TTLLockSecs    = 120
	TTLThread      = 30 * 24 * time.Hour
	LockRefreshAge = 60 * time.Second
)

// BotStateKey is "bot:state:{w}:{botId}".
func BotStateKey(workspace, botID string) string {
	return "bot:state:" + workspace + ":" + botID
}

// ProcessStatusKey is "process:status:{uri}".
func ProcessStatusKey(uri string) string { return "process:status:" + uri }

// ProcessExecutorKey is "process:executor:{uri}".
func ProcessExecutorKey(uri string) string { return "process:executor:" + uri }

// SecretProcessKey is "remote:bysecret:process:{secret}".
func SecretProcessKey(secret string) string { return "remote:bysecret:process:" + secret }

// SecretServiceKey is "remote:bysecret:service:{secret}".
func SecretServiceKey(secret string) string { return "remote:bysecret:service:" + secret }

// ServiceKey is "remote:{w}:service:{svcId}".
func ServiceKey(workspace, serviceID string) string {
	return "remote:" + workspace + ":service:" + serviceID
}

// ServiceSetKey is "remote:{w}:service".
func ServiceSetKey(workspace string) string { return "remote:" + workspace + ":service" }

// ActionsKey is "workspace:{w}:actions:{svcId}".
func ActionsKey(workspace, serviceID string) string {
	return "workspace:" + workspace + ":actions:" + serviceID
}

// RequestQueueKey is "workspace:{w}:request".
func RequestQueueKey(workspace string) string { return "workspace:" + workspace + ":request" }

// ResponseQueueKey is "workspace:{w}:response:{chId}".
func ResponseQueueKey(workspace, channelID string) string {
	return "workspace:" + workspace + ":response:" + channelID
}

// WorkspaceLockKey is "workspace:lock:{w}".
func WorkspaceLockKey(workspace string) string { return "workspace:lock:" + workspace }

// ThreadInfoKey is "thread:info:{uri}".
func ThreadInfoKey(threadURI string) string { return "thread:info:" + threadURI }

// ThreadMessagesKey is "thread:messages:{uri}".
func ThreadMessagesKey(threadURI string) string { return "thread:messages:" + threadURI }

// ThreadIndexKey is "thread:index:{w}".
func ThreadIndexKey(workspace string) string { return "thread:index:" + workspace }
