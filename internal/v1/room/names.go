package room

import (
	"fmt"
	"math/rand/v2"

	"github.com/wavecast/broker/internal/v1/types"
)

// displayNamePool is the fallback pool for members who register without a
// display name. Fixed list, all lowercase; clients key avatars off these.
var displayNamePool = []string{
	"badger", "beaver", "bison", "cheetah", "dolphin",
	"eagle", "falcon", "fox", "gecko", "heron",
	"ibex", "jackal", "koala", "lemur", "lynx",
	"magpie", "marmot", "narwhal", "ocelot", "otter",
	"panda", "puffin", "quokka", "raven", "stoat",
	"tapir", "walrus", "wombat", "zebra",
}

func randomDisplayName() string {
	return displayNamePool[rand.IntN(len(displayNamePool))]
}

// resolveDisplayNameLocked returns the requested name, or a pool name when
// the request carried none, suffixed with -2, -3, ... until no other
// member holds it. The member being replaced does not count against
// itself, so re-registering under the same name never grows a suffix.
func (r *Room) resolveDisplayNameLocked(id types.ClientIdType, requested string) types.DisplayNameType {
	base := requested
	if base == "" {
		base = randomDisplayName()
	}

	inUse := make(map[string]bool, len(r.members))
	for _, m := range r.members {
		if m.ClientID == id {
			continue
		}
		inUse[string(m.DisplayName)] = true
	}

	name := base
	for n := 2; inUse[name]; n++ {
		name = fmt.Sprintf("%s-%d", base, n)
	}
	return types.DisplayNameType(name)
}
