package pcidev_test

import (
	"testing"

	"github.com/usnistgov/pcidma/core/testenv"
)

func TestMain(m *testing.M) {
	testenv.Exit(m.Run())
}

var makeAR = testenv.MakeAR
