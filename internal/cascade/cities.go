package cascade

// countryCities lists the cities swept when a request names a country but no
// cities or regions. Ordered roughly by population so dense markets are hit
// first.
var countryCities = map[string][]string{
	"IT": {
		"Milano", "Roma", "Napoli", "Torino", "Palermo", "Genova", "Bologna",
		"Firenze", "Bari", "Catania", "Venezia", "Verona", "Messina", "Padova",
		"Trieste", "Brescia", "Parma", "Taranto", "Prato", "Modena",
		"Reggio Calabria", "Reggio Emilia", "Perugia", "Ravenna", "Livorno",
		"Cagliari", "Foggia", "Rimini", "Salerno", "Ferrara", "Sassari",
		"Latina", "Monza", "Siracusa", "Pescara", "Bergamo", "Forlì", "Trento",
		"Vicenza", "Terni", "Bolzano", "Novara", "Piacenza", "Ancona",
		"Arezzo", "Udine", "Cesena", "Lecce", "Pesaro", "Alessandria",
		"La Spezia", "Pistoia", "Pisa", "Catanzaro", "Lucca", "Como",
	},
	"DE": {
		"Berlin", "Hamburg", "München", "Köln", "Frankfurt am Main",
		"Stuttgart", "Düsseldorf", "Leipzig", "Dortmund", "Essen", "Bremen",
		"Dresden", "Hannover", "Nürnberg", "Duisburg", "Bochum", "Wuppertal",
		"Bielefeld", "Bonn", "Münster", "Mannheim", "Karlsruhe", "Augsburg",
		"Wiesbaden", "Mönchengladbach", "Gelsenkirchen", "Aachen",
		"Braunschweig", "Kiel", "Chemnitz", "Halle", "Magdeburg", "Freiburg",
		"Krefeld", "Mainz", "Lübeck", "Erfurt", "Oberhausen", "Rostock",
		"Kassel", "Potsdam", "Saarbrücken", "Oldenburg", "Osnabrück",
		"Heidelberg", "Darmstadt", "Regensburg", "Paderborn", "Ingolstadt",
		"Würzburg", "Ulm", "Heilbronn", "Wolfsburg", "Göttingen", "Koblenz",
		"Trier", "Jena", "Erlangen",
	},
	"AT": {
		"Wien", "Graz", "Linz", "Salzburg", "Innsbruck", "Klagenfurt",
		"Villach", "Wels", "Sankt Pölten", "Dornbirn", "Wiener Neustadt",
		"Steyr", "Feldkirch", "Bregenz", "Klosterneuburg", "Baden", "Leoben",
		"Krems an der Donau", "Amstetten", "Kufstein",
	},
	"CH": {
		"Zürich", "Genf", "Basel", "Bern", "Lausanne", "Winterthur", "Luzern",
		"St. Gallen", "Lugano", "Biel", "Thun", "Fribourg", "Schaffhausen",
		"Chur", "Neuchâtel", "Uster", "Sion", "Zug", "Montreux",
	},
	"FR": {
		"Paris", "Marseille", "Lyon", "Toulouse", "Nice", "Nantes",
		"Strasbourg", "Montpellier", "Bordeaux", "Lille", "Rennes", "Reims",
		"Saint-Étienne", "Le Havre", "Toulon", "Grenoble", "Dijon", "Angers",
		"Nîmes", "Villeurbanne", "Clermont-Ferrand", "Le Mans",
		"Aix-en-Provence", "Brest", "Tours", "Amiens", "Limoges", "Annecy",
		"Perpignan", "Metz", "Besançon", "Orléans", "Rouen", "Mulhouse",
		"Caen", "Nancy",
	},
	"ES": {
		"Madrid", "Barcelona", "Valencia", "Sevilla", "Zaragoza", "Málaga",
		"Murcia", "Palma", "Las Palmas", "Bilbao", "Alicante", "Córdoba",
		"Valladolid", "Vigo", "Gijón", "A Coruña", "Vitoria", "Granada",
		"Elche", "Oviedo", "Pamplona", "Almería", "San Sebastián", "Burgos",
		"Albacete", "Santander",
	},
}

// citiesFor resolves the city sweep for one country. Explicit cities win,
// then regions stand in as city terms, then the country table.
func citiesFor(country string, cities, regions []string) []string {
	if len(cities) > 0 {
		return cities
	}
	if len(regions) > 0 {
		return regions
	}
	if list, ok := countryCities[country]; ok {
		return list
	}
	// no table for the country; search without a city qualifier
	return []string{""}
}
