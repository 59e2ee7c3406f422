// Package guardian is the capability check consumed by the publish and
// tracking paths. The real forum's permission engine sits behind this
// interface; this subsystem only ever asks yes/no questions of it.
package guardian

// Guardian answers permission questions for one user. The zero user id is
// the anonymous guardian, used when serializing payloads that must not leak
// per-recipient data.
type Guardian interface {
	UserID() int64
	CanSeeChannel(channelID int64) bool
	CanSeeThread(threadID int64) bool
}

type static struct {
	userID   int64
	channels map[int64]bool
	threads  map[int64]bool
	all      bool
}

// New returns a guardian that allows exactly the given channel and thread
// ids for the user.
func New(userID int64, channelIDs, threadIDs []int64) Guardian {
	g := &static{userID: userID, channels: map[int64]bool{}, threads: map[int64]bool{}}
	for _, id := range channelIDs {
		g.channels[id] = true
	}
	for _, id := range threadIDs {
		g.threads[id] = true
	}
	return g
}

// AllowAll returns a guardian with unrestricted read access, for trusted
// internal callers.
func AllowAll(userID int64) Guardian {
	return &static{userID: userID, all: true}
}

// Anonymous is the guardian used for audience-neutral serialization.
func Anonymous() Guardian {
	return &static{all: true}
}

func (g *static) UserID() int64 { return g.userID }

func (g *static) CanSeeChannel(channelID int64) bool {
	return g.all || g.channels[channelID]
}

func (g *static) CanSeeThread(threadID int64) bool {
	return g.all || g.threads[threadID]
}
