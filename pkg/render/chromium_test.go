package render

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-rod/rod"
)

func TestExportLookupError(t *testing.T) {
	// An absent control is the soft not-found sentinel.
	err := exportLookupError(&rod.ElementNotFoundError{})
	if !errors.Is(err, ErrNoExportControl) {
		t.Errorf("absent control mapped to %v, want ErrNoExportControl", err)
	}
	err = exportLookupError(fmt.Errorf("query page: %w", &rod.ElementNotFoundError{}))
	if !errors.Is(err, ErrNoExportControl) {
		t.Errorf("wrapped absent control mapped to %v, want ErrNoExportControl", err)
	}

	// Timeouts and dead pages must stay hard failures.
	for _, cause := range []error{
		context.DeadlineExceeded,
		context.Canceled,
		errors.New("page crashed"),
	} {
		err := exportLookupError(cause)
		if errors.Is(err, ErrNoExportControl) {
			t.Errorf("%v collapsed into ErrNoExportControl", cause)
		}
		if !errors.Is(err, cause) {
			t.Errorf("classified error %v does not wrap %v", err, cause)
		}
	}
}
