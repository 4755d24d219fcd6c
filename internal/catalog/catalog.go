package catalog

import (
	"sort"

	"github.com/lox/plantwatch/internal/models"
)

const DefaultPlantID = 1

var plants = map[int]models.Plant{
	1: {
		ID:          1,
		Name:        "Tomato Plant",
		Category:    "Vegetable",
		Description: "Tomatoes need regular watering, plenty of sunlight, and nutrient-rich soil.",
		ImageURL:    "https://images.unsplash.com/photo-1592841200221-a6898f307baa?auto=format&fit=crop&w=200&q=80",
		Optimal: []models.OptimalRange{
			{Metric: "soil_moisture", Range: "60-80%"},
			{Metric: "soil_temperature", Range: "20-28°C"},
			{Metric: "humidity", Range: "65-75%"},
			{Metric: "soil_ph", Range: "6.0-7.0"},
		},
	},
	2: {
		ID:          2,
		Name:        "Snake Plant",
		Category:    "House Plant",
		Description: "Very drought tolerant, prefers indirect light and infrequent watering.",
		ImageURL:    "https://www.marthastewart.com/thmb/IJw4H5lyXQmgTZtLyqnr3uwCQQk=/1500x0/filters:no_upscale():max_bytes(150000):strip_icc()/eight-houseplants-that-thrive-in-low-light-8-0922-2000-39845777816b4f1f8a49b6ef758ef35e.jpg",
		Optimal: []models.OptimalRange{
			{Metric: "soil_moisture", Range: "30-50%"},
			{Metric: "soil_temperature", Range: "18-27°C"},
			{Metric: "humidity", Range: "40-50%"},
			{Metric: "soil_ph", Range: "5.5-7.5"},
		},
	},
	3: {
		ID:          3,
		Name:        "Basil",
		Category:    "Herb",
		Description: "Likes moist soil, warm temperatures, and plenty of sunlight.",
		ImageURL:    "https://aanmc.org/wp-content/uploads/2021/08/987-1024x681.jpg",
		Optimal: []models.OptimalRange{
			{Metric: "soil_moisture", Range: "50-70%"},
			{Metric: "soil_temperature", Range: "18-24°C"},
			{Metric: "humidity", Range: "40-60%"},
			{Metric: "soil_ph", Range: "6.0-7.5"},
		},
	},
	4: {
		ID:          4,
		Name:        "Peace Lily",
		Category:    "House Plant",
		Description: "Thrives in shade, prefers moist soil and high humidity.",
		ImageURL:    "https://cdn.mos.cms.futurecdn.net/qYNPupRnspGWPF4886Z7hB-1200-80.jpg",
		Optimal: []models.OptimalRange{
			{Metric: "soil_moisture", Range: "50-60%"},
			{Metric: "soil_temperature", Range: "18-30°C"},
			{Metric: "humidity", Range: "50-80%"},
			{Metric: "soil_ph", Range: "5.8-6.5"},
		},
	},
}

// Catalog is the fixed set of monitored plants.
type Catalog struct{}

func New() Catalog {
	return Catalog{}
}

func (Catalog) Get(id int) (models.Plant, bool) {
	p, ok := plants[id]
	return p, ok
}

// List returns all plants ordered by id.
func (Catalog) List() []models.Plant {
	out := make([]models.Plant, 0, len(plants))
	for _, p := range plants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c Catalog) Default() models.Plant {
	p, _ := c.Get(DefaultPlantID)
	return p
}

// IDs returns the plant ids in order.
func (c Catalog) IDs() []int {
	var ids []int
	for _, p := range c.List() {
		ids = append(ids, p.ID)
	}
	return ids
}
