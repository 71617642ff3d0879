package filter

/*
Here the Env used in the score filters is defined.
Once this struct is fixed, it should not be changed, otherwise configured filters may not compile any more
(f.e. if properties are renamed etc.)
*/

type Player struct {
	Id    string
	Name  string
	Email string
}

type Env struct {
	RoomId string
	Player Player
	Score  float64
}
