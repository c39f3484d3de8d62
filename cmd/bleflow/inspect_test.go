package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/srg/bleflow/internal/device"
	"github.com/srg/bleflow/internal/supervisor"
	"github.com/srg/bleflow/internal/testutils"
)

func connectedCatalog(t *testing.T) *supervisor.ServiceCatalog {
	t.Helper()

	client := testutils.NewClient().
		WithCharacteristic("180d", "2a37", device.PropNotify).
		WithCharacteristic("180d", "2a38", device.PropRead)
	binding := testutils.NewBinding().WithClient("AA:BB", client)
	sup := supervisor.NewSupervisor(binding, nil, nil)

	catalog, err := sup.Connect(context.Background(), &device.Handle{ID: "AA:BB", Address: "AA:BB"})
	require.NoError(t, err)
	return catalog
}

func TestDisplayCatalogTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, displayCatalog(&out, connectedCatalog(t), "table"))

	testutils.NewTextAsserter(t).
		WithOptions(testutils.WithTrimSpace(true), testutils.WithIgnoreEmptyLines(true)).
		Assert(out.String(), `SERVICE  CHARACTERISTIC  PROPERTIES
180d     2a37            notify
         2a38            read`)
}

func TestDisplayCatalogJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, displayCatalog(&out, connectedCatalog(t), "json"))

	testutils.NewJSONAsserter(t).Assert(out.String(), `[
		{
			"uuid": "180d",
			"characteristics": [
				{"uuid": "2a37", "properties": "notify"},
				{"uuid": "2a38", "properties": "read"}
			]
		}
	]`)
}
