package authoring

import "math/rand/v2"

// Topics is the catalog questions are drawn from.
var Topics = []string{
	"History",
	"Science",
	"Literature",
	"Film & TV",
	"Sports",
	"Geography",
	"Arts",
	"Technology",
	"General Knowledge",
	"Music",
	"Food & Drink",
	"Nature & Animals",
	"Greek Mythology",
	"Norse Mythology",
	"Egyptian Mythology",
	"Space & Astronomy",
	"Video Games",
	"Politics & Government",
	"Business & Economics",
	"Health & Medicine",
	"Architecture",
	"Philosophy",
	"Psychology",
	"Linguistics & Languages",
	"Mathematics",
	"Chemistry",
	"Physics",
	"Biology",
	"Ancient Civilizations",
	"World Religions",
	"Ancient Rome",
	"Ancient Greece",
	"Medieval Times",
	"Renaissance Era",
	"Age of Exploration",
	"Industrial Revolution",
	"World Wars",
	"Cold War Era",
	"Aviation & Aerospace",
	"Maritime & Naval History",
	"Engineering & Innovation",
	"Board Games & Tabletop",
	"Puzzles & Brain Teasers",
	"Photography",
	"Olympic Sports",
	"Classical Music",
	"Jazz & Blues",
	"Painting & Visual Arts",
	"Marine Biology & Oceanography",
	"Dinosaurs & Paleontology",
	"Climate & Weather",
	"Volcanoes & Earthquakes",
	"Genetics & DNA",
	"Cryptocurrency & Blockchain",
	"Artificial Intelligence",
	"Cybersecurity",
	"Programming & Coding",
	"Internet History",
	"Inventions & Patents",
	"Science Fiction",
	"Shakespeare",
	"World Capitals",
	"Mountains & Peaks",
	"Rivers & Lakes",
	"Islands & Archipelagos",
	"Flags & Symbols",
	"International Cuisine",
	"Espionage & Spies",
	"Pirates & Privateers",
	"Royalty & Nobility",
	"Magic & Illusions",
	"Cartoons & Animation",
}

// RandomTopic picks a topic uniformly from Topics.
func RandomTopic() string {
	return Topics[rand.IntN(len(Topics))]
}
