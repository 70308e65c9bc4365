package entities

// allowedTransitions encodes the lifecycle table. A deployment moves through
// its states monotonically; the only state that may be re-entered is
// Deploying, via an explicit start from Stopped.
var allowedTransitions = map[DeploymentStatus][]DeploymentStatus{
	DeploymentStatusPending:    {DeploymentStatusDeploying, DeploymentStatusTerminated, DeploymentStatusFailed},
	DeploymentStatusDeploying:  {DeploymentStatusActive, DeploymentStatusBidding, DeploymentStatusStopping, DeploymentStatusTerminated, DeploymentStatusFailed},
	DeploymentStatusBidding:    {DeploymentStatusLeasing, DeploymentStatusStopping, DeploymentStatusTerminated, DeploymentStatusFailed},
	DeploymentStatusLeasing:    {DeploymentStatusActive, DeploymentStatusStopping, DeploymentStatusTerminated, DeploymentStatusFailed},
	DeploymentStatusActive:     {DeploymentStatusStopping, DeploymentStatusTerminated, DeploymentStatusFailed},
	DeploymentStatusStopping:   {DeploymentStatusStopped, DeploymentStatusTerminated, DeploymentStatusFailed},
	DeploymentStatusStopped:    {DeploymentStatusDeploying, DeploymentStatusTerminated},
	DeploymentStatusTerminated: {},
	DeploymentStatusFailed:     {},
}

// CanTransition reports whether the lifecycle table permits moving a
// deployment from one status to another.
func CanTransition(from, to DeploymentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further provisioning can happen for a
// deployment in the given status. Stopped deployments can still be started
// again or terminated, so Stopped is not terminal.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentStatusTerminated || s == DeploymentStatusFailed
}

// IsDeletable reports whether a record may be hard-deleted. Only records
// that can never run again qualify.
func (s DeploymentStatus) IsDeletable() bool {
	return s == DeploymentStatusTerminated || s == DeploymentStatusFailed || s == DeploymentStatusStopped
}

// InFlight reports whether the deployment currently owns an asynchronous
// provisioning task.
func (s DeploymentStatus) InFlight() bool {
	switch s {
	case DeploymentStatusDeploying, DeploymentStatusBidding, DeploymentStatusLeasing, DeploymentStatusStopping:
		return true
	}
	return false
}
