package dispatch

import (
	"github.com/good-yellow-bee/carealert/internal/models"
	"github.com/good-yellow-bee/carealert/internal/store"
)

// Watch dispatches every alert appended to s from now on.
func (d *Dispatcher) Watch(s *store.Store) {
	s.OnAppend(func(a models.Alert) {
		d.Dispatch(a)
	})
}
