package job

type ActorKind string

const (
	ActorSystem   ActorKind = "system"
	ActorCustomer ActorKind = "customer"
	ActorProvider ActorKind = "provider"
	ActorAdmin    ActorKind = "admin"
)

// Actor is whoever is asking for a transition.
type Actor struct {
	ID   string
	Kind ActorKind
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the job counts against its provider's capacity.
func (s Status) Active() bool {
	return s == StatusAssigned || s == StatusInProgress
}

func (s Status) Cancellable() bool {
	switch s {
	case StatusCreated, StatusBroadcasted, StatusAssigned, StatusInProgress:
		return true
	}
	return false
}

type edge struct {
	from, to Status
}

// guards lists every permitted edge and who may take it. ASSIGNED and
// IN_PROGRESS go back to BROADCASTED only when the assigned provider
// releases the job.
var guards = map[edge][]ActorKind{
	{StatusCreated, StatusBroadcasted}:     {ActorSystem},
	{StatusBroadcasted, StatusBroadcasted}: {ActorSystem},
	{StatusBroadcasted, StatusAssigned}:    {ActorProvider},
	{StatusAssigned, StatusInProgress}:     {ActorProvider},
	{StatusInProgress, StatusCompleted}:    {ActorProvider, ActorAdmin},
	{StatusAssigned, StatusBroadcasted}:    {ActorProvider},
	{StatusInProgress, StatusBroadcasted}:  {ActorProvider},

	{StatusCreated, StatusCancelled}:     {ActorCustomer, ActorSystem},
	{StatusBroadcasted, StatusCancelled}: {ActorCustomer, ActorSystem},
	{StatusAssigned, StatusCancelled}:    {ActorCustomer},
	{StatusInProgress, StatusCancelled}:  {ActorCustomer},
}

// CanTransition reports whether from->to is an edge of the state machine
// for any actor.
func CanTransition(from, to Status) bool {
	_, ok := guards[edge{from, to}]
	return ok
}

// CheckTransition returns an *IllegalTransitionError unless actor may move a
// job from current to to.
func CheckTransition(actor ActorKind, current, to Status) error {
	for _, a := range guards[edge{current, to}] {
		if a == actor {
			return nil
		}
	}
	return &IllegalTransitionError{Actor: actor, Current: current, To: to}
}
