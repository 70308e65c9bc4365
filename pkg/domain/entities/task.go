package entities

// Task is a unit of asynchronous work handed to the task manager.
type Task func()
