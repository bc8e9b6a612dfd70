package logfields

import "go.uber.org/zap"

func PullRequest(val int) zap.Field {
	return zap.Int("github.pull_request", val)
}

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func Branch(val string) zap.Field {
	return zap.String("git.branch", val)
}

func BaseBranch(val string) zap.Field {
	return zap.String("git.base_branch", val)
}

func MirrorBranch(val string) zap.Field {
	return zap.String("git.mirror_branch", val)
}

func OverlayBranch(val string) zap.Field {
	return zap.String("git.overlay_branch", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func MergeBase(val string) zap.Field {
	return zap.String("git.merge_base", val)
}
