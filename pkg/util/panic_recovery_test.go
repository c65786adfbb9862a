package util

import (
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSafeCallConvertsPanicToError(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel) // keep test output quiet
	ph := NewPanicHandler(logger)

	err := ph.SafeCall("test-component", func() error {
		panic("boom")
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "test-component")
}

func TestSafeCallPassesThroughError(t *testing.T) {
	ph := NewPanicHandler(logrus.New())

	sentinel := errors.New("expected")
	err := ph.SafeCall("test-component", func() error { return sentinel })
	assert.Equal(t, sentinel, err)

	assert.NoError(t, ph.SafeCall("test-component", func() error { return nil }))
}

func TestSafeGoRecoversPanic(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	ph := NewPanicHandler(logger)

	var wg sync.WaitGroup
	wg.Add(1)
	ph.SafeGo("test-goroutine", func() {
		defer wg.Done()
		panic("goroutine boom")
	})

	// Must not crash the test binary.
	wg.Wait()
}

func TestRecoverWithCallback(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	ph := NewPanicHandler(logger)

	var captured interface{}
	func() {
		defer ph.RecoverWithCallback("cb-component", func(v interface{}) { captured = v })
		panic("callback boom")
	}()

	assert.Equal(t, "callback boom", captured)
}
