// Package domain содержит основные типы предметной области Trellis.
//
// Основные сущности:
//   - PipelineSpec/StepSpec — декларативное описание ML-пайплайна и его шагов
//   - Run — экземпляр выполнения пайплайна
//   - StepState — состояние выполнения одного шага внутри run
//   - RunResult — итоговый снимок выполнения
//   - Schedule — расписание автоматических запусков
//
// Типы domain не зависят от других пакетов проекта.
package domain
