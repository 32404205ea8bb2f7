package memsentry_test

import (
	"fmt"
	"log"

	"github.com/hupe1980/memsentry"
)

// Example_hardenedClamp demonstrates the healing policy turning an
// out-of-bounds write into a clamped one.
func Example_hardenedClamp() {
	m, err := memsentry.New(memsentry.WithMode(memsentry.Hardened))
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	addr, err := m.Malloc(16)
	if err != nil {
		log.Fatal(err)
	}

	_, adjLen, outcome, applied, err := m.ValidateAndHeal(addr, 128, memsentry.OpWrite)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("outcome=%s action=%s adjusted=%d\n", outcome, applied.Action, adjLen)
	// Output: outcome=bounds_violation action=clamp_size adjusted=16
}

// Example_strictReporting demonstrates strict mode surfacing violations
// as errors without touching the operation.
func Example_strictReporting() {
	m, err := memsentry.New(memsentry.WithMode(memsentry.Strict))
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	addr, err := m.Malloc(16)
	if err != nil {
		log.Fatal(err)
	}
	if err := m.Free(addr); err != nil {
		log.Fatal(err)
	}

	err = m.Free(addr) // double free
	fmt.Println(err)
	// Output: memsentry: use of freed allocation
}
