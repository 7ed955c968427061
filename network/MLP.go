package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MLP implements a multi-layered perceptron. The MLP may take several
// input matrices, for example a state and an action for a critic,
// which are concatenated along the feature dimension before the first
// layer.
//
// All parameter nodes of an MLP are named after the MLP so that
// several MLPs, or clones of one MLP, can share a single graph.
type MLP struct {
	g      *G.ExprGraph
	name   string
	inputs []*G.Node // Leaf inputs, nil when built onto existing nodes
	input  *G.Node   // Concatenated input to the first layer
	layers []*fcLayer

	inputSizes []int
	numInputs  int
	numOutputs int
	batchSize  int

	// Configuration data needed for gobbing
	hiddenSizes []int
	activations []*Activation
	outputAct   *Activation

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
}

// NewMLP creates and returns a new multi-layered perceptron named name
// in the graph g. The MLP takes one input matrix of shape
// (batch, inputSizes[i]) per element of inputSizes.
//
// The MLP has number of layers equal to len(hiddenSizes) + 1. For
// index i, hiddenSizes[i] is the number of units in hidden layer i
// and activations[i] is its activation. Every layer has a bias unit.
// A final layer with outputs units and activation outputAct is always
// added. The parameter init determines the weight initialization
// scheme; biases are initialized to zero.
func NewMLP(name string, g *G.ExprGraph, inputSizes []int, batch,
	outputs int, hiddenSizes []int, activations []*Activation,
	outputAct *Activation, init G.InitWFn) (*MLP, error) {
	if len(inputSizes) == 0 {
		return nil, fmt.Errorf("newmlp: at least one input is required")
	}

	inputs := make([]*G.Node, len(inputSizes))
	for i, size := range inputSizes {
		if size < 1 {
			return nil, fmt.Errorf("newmlp: input %d must have positive size"+
				"\n\thave(%v)", i, size)
		}
		inputs[i] = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(batch, size),
			G.WithName(fmt.Sprintf("%s_input%d", name, i)),
			G.WithInit(G.Zeroes()),
		)
	}

	net, err := newMLPFromInput(name, inputs, outputs, hiddenSizes,
		activations, outputAct, init)
	if err != nil {
		return nil, fmt.Errorf("newmlp: %v", err)
	}
	net.inputs = inputs
	net.inputSizes = append([]int(nil), inputSizes...)

	return net, nil
}

// newMLPFromInput returns a new MLP that has specific nodes as its
// inputs. If multiple input nodes are given, they are first
// concatenated along the feature (column) dimension.
func newMLPFromInput(name string, inputs []*G.Node, outputs int,
	hiddenSizes []int, activations []*Activation, outputAct *Activation,
	init G.InitWFn) (*MLP, error) {
	// Ensure we have one activation per layer
	if len(hiddenSizes) != len(activations) {
		msg := "invalid number of activations\n\twant(%d)\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}
	if outputs < 1 {
		return nil, fmt.Errorf("there must be more than 0 outputs")
	}
	if outputAct == nil {
		outputAct = Identity()
	}

	input, err := concat(inputs)
	if err != nil {
		return nil, err
	}

	batch := input.Shape()[0]
	features := input.Shape()[1]

	layers := make([]*fcLayer, len(hiddenSizes)+1)
	in := features
	for i, size := range hiddenSizes {
		if size < 1 {
			return nil, fmt.Errorf("hidden layer %d must have positive "+
				"size\n\thave(%v)", i, size)
		}
		layers[i] = newfcLayer(input.Graph(), layerName(name, i), in, size,
			true, activations[i], init)
		in = size
	}
	layers[len(hiddenSizes)] = newfcLayer(input.Graph(),
		layerName(name, len(hiddenSizes)), in, outputs, true, outputAct, init)

	net := &MLP{
		g:           input.Graph(),
		name:        name,
		input:       input,
		layers:      layers,
		numInputs:   features,
		numOutputs:  outputs,
		batchSize:   batch,
		hiddenSizes: append([]int(nil), hiddenSizes...),
		activations: activations,
		outputAct:   outputAct,
	}

	if _, err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("could not compute forward pass: %v", err)
	}
	return net, nil
}

// concat concatenates input nodes along the feature dimension
func concat(inputs []*G.Node) (*G.Node, error) {
	for _, input := range inputs {
		if input.Graph() != inputs[0].Graph() {
			return nil, fmt.Errorf("not all inputs have the same graph")
		}
		if !input.IsMatrix() {
			return nil, fmt.Errorf("input must be a matrix node")
		}
	}

	if len(inputs) == 1 {
		return inputs[0], nil
	}
	return G.Concat(1, inputs...)
}

// Name returns the name of the MLP
func (m *MLP) Name() string {
	return m.name
}

// Graph returns the computational graph of the MLP
func (m *MLP) Graph() *G.ExprGraph {
	return m.g
}

// BatchSize returns the batch size of inputs to the MLP
func (m *MLP) BatchSize() int {
	return m.batchSize
}

// Features returns the number of features of the concatenated input
func (m *MLP) Features() int {
	return m.numInputs
}

// Outputs returns the number of outputs from the MLP
func (m *MLP) Outputs() int {
	return m.numOutputs
}

// Clone clones the MLP into a new graph with the same batch size
func (m *MLP) Clone() (*MLP, error) {
	return m.CloneWithBatch(m.batchSize)
}

// CloneWithBatch clones the MLP into a new graph with a new input
// batch size. The clone has its own leaf inputs and a deep copy of the
// parameters.
func (m *MLP) CloneWithBatch(batch int) (*MLP, error) {
	if m.inputSizes == nil {
		return nil, fmt.Errorf("clonewithbatch: cannot clone an MLP built " +
			"onto existing nodes")
	}

	g := G.NewGraph()
	inputs := make([]*G.Node, len(m.inputSizes))
	for i, size := range m.inputSizes {
		inputs[i] = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(batch, size),
			G.WithName(fmt.Sprintf("%s_input%d", m.name, i)),
			G.WithInit(G.Zeroes()),
		)
	}

	net, err := m.cloneOnto(m.name, inputs)
	if err != nil {
		return nil, fmt.Errorf("clonewithbatch: %v", err)
	}
	net.inputs = inputs
	net.inputSizes = append([]int(nil), m.inputSizes...)
	return net, nil
}

// CloneOnto clones the MLP into the graph of the given input nodes,
// using those nodes as its inputs. The clone is renamed to name, which
// must differ from the names of other networks in that graph.
//
// This allows one network to consume the output of another, for
// example a critic evaluating the action an actor produced.
func (m *MLP) CloneOnto(name string, inputs ...*G.Node) (*MLP, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("cloneonto: at least one input is " +
			"required")
	}
	net, err := m.cloneOnto(name, inputs)
	if err != nil {
		return nil, fmt.Errorf("cloneonto: %v", err)
	}
	return net, nil
}

// cloneOnto clones the MLP's layers onto the given inputs and runs the
// forward pass
func (m *MLP) cloneOnto(name string, inputs []*G.Node) (*MLP, error) {
	input, err := concat(inputs)
	if err != nil {
		return nil, err
	}
	if input.Shape()[1] != m.numInputs {
		return nil, fmt.Errorf("invalid number of input features"+
			"\n\twant(%v)\n\thave(%v)", m.numInputs, input.Shape()[1])
	}

	layers := make([]*fcLayer, len(m.layers))
	for i := range m.layers {
		layers[i] = m.layers[i].cloneTo(input.Graph(), layerName(name, i))
	}

	net := &MLP{
		g:           input.Graph(),
		name:        name,
		input:       input,
		layers:      layers,
		numInputs:   m.numInputs,
		numOutputs:  m.numOutputs,
		batchSize:   input.Shape()[0],
		hiddenSizes: m.hiddenSizes,
		activations: m.activations,
		outputAct:   m.outputAct,
	}
	if _, err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("could not compute forward pass: %v", err)
	}
	return net, nil
}

// Inputs returns the leaf input nodes of the MLP
func (m *MLP) Inputs() []*G.Node {
	return m.inputs
}

// SetInput sets the values of the leaf input nodes before running the
// forward pass. One slice must be given per input, each holding
// BatchSize() rows in row-major order.
func (m *MLP) SetInput(values ...[]float64) error {
	if len(values) != len(m.inputs) {
		return fmt.Errorf("setinput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", len(m.inputs), len(values))
	}

	for i, input := range m.inputs {
		want := m.batchSize * m.inputSizes[i]
		if len(values[i]) != want {
			return fmt.Errorf("setinput: invalid size for input %d"+
				"\n\twant(%v)\n\thave(%v)", i, want, len(values[i]))
		}

		backing := make([]float64, want)
		copy(backing, values[i])
		inputTensor := tensor.New(
			tensor.WithBacking(backing),
			tensor.WithShape(input.Shape().Clone()...),
		)
		if err := G.Let(input, inputTensor); err != nil {
			return fmt.Errorf("setinput: %v", err)
		}
	}
	return nil
}

// Learnables returns the learnable nodes in the MLP, ordered layer by
// layer with each layer's weights before its bias
func (m *MLP) Learnables() G.Nodes {
	// Lazy instantiation
	if m.learnables == nil {
		learnables := make([]*G.Node, 0, 2*len(m.layers))
		for _, l := range m.layers {
			learnables = append(learnables, l.weights)
			if l.bias != nil {
				learnables = append(learnables, l.bias)
			}
		}
		m.learnables = G.Nodes(learnables)
	}
	return m.learnables
}

// Model returns the learnables nodes with their gradients.
func (m *MLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if m.model == nil {
		for _, node := range m.Learnables() {
			m.model = append(m.model, node)
		}
	}
	return m.model
}

// fwd performs the forward pass of the MLP on the input node
func (m *MLP) fwd(input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, l := range m.layers {
		if pred, err = l.fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	m.prediction = pred
	return pred, nil
}

// Prediction returns the node of the computational graph that stores
// the output of the MLP
func (m *MLP) Prediction() *G.Node {
	return m.prediction
}

// Output returns a copy of the output of the MLP computed by the last
// run of a VM over its graph, as a row-major (BatchSize(), Outputs())
// slice.
func (m *MLP) Output() []float64 {
	value := m.prediction.Value()
	if value == nil {
		return nil
	}
	data := value.Data().([]float64)
	out := make([]float64, len(data))
	copy(out, data)
	return out
}

// mlpSnapshot is the serialized form of an MLP
type mlpSnapshot struct {
	Name        string
	InputSizes  []int
	Batch       int
	Outputs     int
	HiddenSizes []int
	Activations []*Activation
	OutputAct   *Activation
	Params      [][]float64
}

// GobEncode implements the gob.GobEncoder interface
func (m *MLP) GobEncode() ([]byte, error) {
	if m.inputSizes == nil {
		return nil, fmt.Errorf("gobencode: cannot encode an MLP built onto " +
			"existing nodes")
	}

	snapshot := mlpSnapshot{
		Name:        m.name,
		InputSizes:  m.inputSizes,
		Batch:       m.batchSize,
		Outputs:     m.numOutputs,
		HiddenSizes: m.hiddenSizes,
		Activations: m.activations,
		OutputAct:   m.outputAct,
	}
	for _, node := range m.Learnables() {
		data := node.Value().Data().([]float64)
		snapshot.Params = append(snapshot.Params, append([]float64(nil),
			data...))
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode MLP: %v", err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The decoded MLP
// lives in a fresh graph.
func (m *MLP) GobDecode(in []byte) error {
	var snapshot mlpSnapshot
	if err := gob.NewDecoder(bytes.NewReader(in)).Decode(&snapshot); err != nil {
		return fmt.Errorf("gobdecode: could not decode MLP: %v", err)
	}

	net, err := NewMLP(snapshot.Name, G.NewGraph(), snapshot.InputSizes,
		snapshot.Batch, snapshot.Outputs, snapshot.HiddenSizes,
		snapshot.Activations, snapshot.OutputAct, G.Zeroes())
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct new MLP: %v", err)
	}

	learnables := net.Learnables()
	if len(learnables) != len(snapshot.Params) {
		return fmt.Errorf("gobdecode: invalid number of parameters"+
			"\n\twant(%v)\n\thave(%v)", len(learnables), len(snapshot.Params))
	}
	for i, node := range learnables {
		data := node.Value().Data().([]float64)
		if len(data) != len(snapshot.Params[i]) {
			return fmt.Errorf("gobdecode: invalid size for parameter %v"+
				"\n\twant(%v)\n\thave(%v)", i, len(data),
				len(snapshot.Params[i]))
		}
		copy(data, snapshot.Params[i])
	}

	*m = *net
	return nil
}
