package write

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plateflow/plateflow/internal/model"
)

func TestSameDrugs_LeavesInputsAlone(t *testing.T) {
	stored := []model.WellDrug{
		{WellID: 1, DrugID: 20, Order: 1, Dose: 2e-6},
		{WellID: 1, DrugID: 10, Order: 0, Dose: 1e-6},
	}
	declared := []model.WellDrug{
		{WellID: 1, DrugID: 10, Order: 0, Dose: 1e-6},
		{WellID: 1, DrugID: 20, Order: 1, Dose: 2e-6 * (1 + 1e-12)},
	}

	assert.True(t, sameDrugs(stored, declared))
	assert.Equal(t, int64(20), stored[0].DrugID)
	assert.Equal(t, 1, stored[0].Order)

	declared[1].Dose = 3e-6
	assert.False(t, sameDrugs(stored, declared))
	assert.False(t, sameDrugs(stored, declared[:1]))
}
