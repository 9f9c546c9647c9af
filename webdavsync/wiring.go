package webdavsync

import "github.com/readur/readur/sourceerrors"

var _ ErrorTracker = (*sourceerrors.Tracker)(nil)
