// Package logging provides the component-tagged logrus entries used
// throughout the cache, mirroring the fs.Debugf/Infof/Errorf convention
// this tree otherwise uses, but as structured fields rather than a
// global package-level function.
package logging

import "github.com/sirupsen/logrus"

// Logger is the package-wide logrus instance. Callers needing custom
// output (a CLI's --quiet flag, a test harness) may swap its level or
// output writer; components never construct their own logrus.Logger.
var Logger = logrus.StandardLogger()

// For returns a *logrus.Entry pre-tagged with the given component name,
// e.g. For("lock"), For("index"), For("download").
func For(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}
