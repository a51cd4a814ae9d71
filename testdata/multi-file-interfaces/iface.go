package animals

type Animal interface {
	Name() string
	Sound() string
}

type Mover interface {
	Move() string
}

//impls:const catIsAnimal *Cat: Animal
type Cat struct{}

func (*Cat) Name() string { return "Cat" }
