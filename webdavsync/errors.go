package webdavsync

import "errors"

// errMethodNotAllowed signals a 405 on PROPFIND, triggering fallback URL
// discovery rather than surfacing the failure directly.
var errMethodNotAllowed = errors.New("webdavsync: method not allowed")

// fallbackBasePaths lists alternate base-path prefixes tried, in order, when
// the configured path shape draws a 405 from the server.
var fallbackBasePaths = map[ServerType][]string{
	ServerNextcloud: {"/remote.php/dav/files/%s", "/remote.php/webdav"},
	ServerOwnCloud:  {"/remote.php/webdav", "/remote.php/dav/files/%s"},
	ServerGeneric:   {"/webdav", "/dav", ""},
}
