package fan

// Build constructs the fan controllers for a device. The secondary fan is
// created first and only when the hardware reports two fans and the user
// enabled it. The primary owns the status line unless a secondary exists.
func Build(dev Device, dualFan, secondEnabled bool) (primary, secondary *Controller) {
	if dualFan && secondEnabled {
		secondary = New(dev, 1, true, false)
	}
	primary = New(dev, 0, dualFan, secondary == nil)
	return primary, secondary
}
