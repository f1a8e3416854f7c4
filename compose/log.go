package compose

import "github.com/sirupsen/logrus"

var channelLog = logrus.WithField("component", "graphrun/compose")

// logDroppedLateDelivery warns when a channel running in AnyPredecessor mode receives
// a delivery from predecessor after it has already fired on an earlier one.
func logDroppedLateDelivery(predecessor string) {
	channelLog.WithField("predecessor", predecessor).
		Warn("dropping late delivery to an any-predecessor channel that already fired")
}
