package metrics

const (
	// StatusSucceed succeed
	StatusSucceed = "succeed"
	// StatusFailed failed
	StatusFailed = "failed"

	// KindUpdate update lambda invocation
	KindUpdate = "update"
	// KindPublish publish lambda invocation
	KindPublish = "publish"
)

const (
	// RoleLeader leader shard
	RoleLeader = "leader"
	// RoleFollower follower shard
	RoleFollower = "follower"
)
