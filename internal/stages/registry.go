package stages

import "hsa-planner/internal/model"

var registry = map[model.Stage]StageHandler{
	model.StageGreeting:    &GreetingHandler{},
	model.StageCollecting:  &CollectingHandler{},
	model.StageCalculating: &CalculatingHandler{},
	model.StagePlanning:    &PlanningHandler{},
}

func Get(stage model.Stage) (StageHandler, bool) {
	h, ok := registry[stage]
	return h, ok
}
