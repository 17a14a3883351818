package task

// Task is a unit of work executed by a dispatcher.
type Task func()

func (t Task) Exec() {
	t()
}
