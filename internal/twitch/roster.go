package twitch

import "strings"

// defaultKnownBots are widely deployed service bots whose traffic is
// never worth storing or responding to.
var defaultKnownBots = []string{
	"nightbot", "streamelements", "streamlabs", "moobot", "fossabot",
	"wizebot", "botisimo", "cloudbot", "ankhbot", "deepbot",
	"phantombot", "coebot", "vivbot", "ohbot", "tipeeebot",
}

// systemUsers are server-side pseudo-users that emit notices as
// PRIVMSG.
var systemUsers = map[string]struct{}{
	"twitchnotify": {},
	"jtv":          {},
	"tmi":          {},
}

// ignoreSet is the case-insensitive set of usernames whose messages
// are dropped on ingest. Always contains the bot's own username.
type ignoreSet map[string]struct{}

func newIgnoreSet(botUsername string, extra []string) ignoreSet {
	set := make(ignoreSet, len(defaultKnownBots)+len(extra)+1)
	set[strings.ToLower(botUsername)] = struct{}{}
	for _, name := range defaultKnownBots {
		set[name] = struct{}{}
	}
	for _, name := range extra {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

func (s ignoreSet) contains(username string) bool {
	_, ok := s[strings.ToLower(username)]
	return ok
}

func isSystemUser(username string) bool {
	_, ok := systemUsers[strings.ToLower(username)]
	return ok
}
