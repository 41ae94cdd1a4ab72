package protocol

import (
	"fmt"
	"math/rand"
)

var (
	maleFirstNames    = []string{"Medved", "Zayac", "Kenguru", "Homyak", "Verblud", "Petuh"}
	femaleFirstNames  = []string{"Antilopa", "Krisa", "Loshad", "Bloha", "Sinica", "Zebra"}
	maleMiddleNames   = []string{"Nikolaevic", "Petrovic", "Alexandrovic", "Dmitrievic", "Kirillovic", "Ivanovic"}
	femaleMiddleNames = []string{"Nikolaevna", "Petrovna", "Alexandrovna", "Dmitrievna", "Kirillovna", "Ivanovna"}
)

func randomName() string {
	first, middle := maleFirstNames, maleMiddleNames
	if rand.Intn(2) == 0 {
		first, middle = femaleFirstNames, femaleMiddleNames
	}
	return first[rand.Intn(len(first))] + " " + middle[rand.Intn(len(middle))]
}

func randomColor() string {
	return fmt.Sprintf("#%06x", rand.Intn(0x1000000))
}
