package agent

import "math"

// Controller is the heuristic ModSAC uses to decide how often the
// actor is updated relative to the critic. It tracks exponential
// moving averages of the critic loss and of the critic's update target
// and derives from the critic average a reliability
//
//	λ = exp(-objC²)
//
// The actor is updated only while the ratio of actor updates to critic
// updates stays below 1 / (2 - λ): an unreliable critic (λ near 0)
// allows roughly one actor update per two critic updates and a
// reliable one (λ near 1) allows one per critic update.
type Controller struct {
	objA float64
	objC float64

	actorUpdates int
}

// NewController returns a new Controller starting from the given actor
// and critic objectives
func NewController(objA, objC float64) *Controller {
	return &Controller{objA: objA, objC: objC}
}

// ObserveCritic folds a critic loss into the critic average
func (c *Controller) ObserveCritic(loss float64) {
	c.objC = 0.995*c.objC + 0.0025*loss
}

// Lambda returns the reliability of the critic, exp(-objC²)
func (c *Controller) Lambda() float64 {
	return math.Exp(-c.objC * c.objC)
}

// UpdateActor returns whether the actor should be updated after
// criticUpdates critic updates, recording an actor update if so.
// criticUpdates must be positive.
func (c *Controller) UpdateActor(criticUpdates int) bool {
	if criticUpdates < 1 {
		return false
	}
	ratio := float64(c.actorUpdates) / float64(criticUpdates)
	if ratio < 1/(2-c.Lambda()) {
		c.actorUpdates++
		return true
	}
	return false
}

// ObserveActor folds the mean critic update target of an actor update
// into the actor average
func (c *Controller) ObserveActor(labelMean float64) {
	c.objA = 0.995*c.objA + 0.005*labelMean
}

// Objectives returns the actor and critic averages
func (c *Controller) Objectives() (float64, float64) {
	return c.objA, c.objC
}

// ActorUpdates returns the number of actor updates recorded
func (c *Controller) ActorUpdates() int {
	return c.actorUpdates
}
