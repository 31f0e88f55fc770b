package models

// Stage - этап прогресса, который видит автор обращения
type Stage int

const (
	StageMatching Stage = iota
	StageAccepted
	StageEnRoute
	StageInCare
	StageCancelled
)

var stageNames = map[Stage]string{
	StageMatching:  "Matching",
	StageAccepted:  "Accepted",
	StageEnRoute:   "En Route",
	StageInCare:    "In Care",
	StageCancelled: "Cancelled",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "Unknown"
}

// IsFinal сообщает, что дальнейший опрос статуса не нужен
func (s Stage) IsFinal() bool {
	return s == StageInCare || s == StageCancelled
}

// StageFor отображает серверный статус в этап клиента.
// Чистая функция поиска: допустимость переходов определяется только машиной состояний.
func StageFor(status Status) (Stage, bool) {
	switch status {
	case StatusPending:
		return StageMatching, true
	case StatusAssigned:
		return StageAccepted, true
	case StatusInProgress:
		return StageEnRoute, true
	case StatusResolved:
		return StageInCare, true
	case StatusCancelled:
		return StageCancelled, true
	}
	return StageMatching, false
}
