package session

import (
	"net/url"
	"strings"
)

// DefaultTrackers is appended to every magnet built from a bare info-hash.
// Order matters: clients announce in list order, so the most reliable
// trackers come first.
var DefaultTrackers = []string{
	"udp://opentor.net:6969",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.stealth.si:80/announce",
	"http://open.tracker.cl:1337/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://zer0day.ch:1337/announce",
	"udp://wepzone.net:6969/announce",
	"udp://tracker.srv00.com:6969/announce",
	"udp://tracker.filemail.com:6969/announce",
	"udp://tracker.dler.org:6969/announce",
	"udp://tracker.bittor.pw:1337/announce",
	"udp://tracker-udp.gbitt.info:80/announce",
	"udp://run.publictracker.xyz:6969/announce",
	"udp://opentracker.io:6969/announce",
	"udp://open.dstud.io:6969/announce",
	"udp://explodie.org:6969/announce",
	"https://tracker.iperson.xyz:443/announce",
	"https://torrent.tracker.durukanbal.com:443/announce",
	"https://cny.fan:443/announce",
	"http://tracker2.dler.org:80/announce",
	"http://tracker.wepzone.net:6969/announce",
}

// BuildMagnet renders a magnet URI from a hex info-hash and a tracker list,
// preserving tracker order. url.Values is avoided on purpose: its Encode
// sorts keys and would reorder the xt parameter behind the trackers.
func BuildMagnet(hash string, trackers []string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hash)
	for _, tr := range trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	return b.String()
}
